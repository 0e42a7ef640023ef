package contracts

// VaultContents is a snapshot of the resources a vault holds in one pool.
type VaultContents struct {
	GemCount     uint64 `json:"gem_count"`
	RarityPoints uint64 `json:"rarity_points"`
}

// Vault is a taker's container of resources inside one bank.
type Vault struct {
	Key     Address `json:"key"`
	Bank    Address `json:"bank"`
	Owner   Address `json:"owner"`
	Creator Address `json:"creator"`
	Locked  bool    `json:"locked"`
	VaultContents
}
