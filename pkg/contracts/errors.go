package contracts

import (
	"errors"
	"fmt"
)

// ErrorCode is a stable numeric error code. Codes 6000-6017 keep the values
// published by the first protocol release; later conditions are appended.
type ErrorCode uint32

const (
	CodeInvalidTokenIndex             ErrorCode = 6000
	CodeBankDoesNotMatch              ErrorCode = 6001
	CodeMintDoesNotMatch              ErrorCode = 6002
	CodeCandyMachineMissing           ErrorCode = 6003
	CodeArithmeticError               ErrorCode = 6004
	CodeNoMoreUsesLeft                ErrorCode = 6005
	CodeIncorrectFunding              ErrorCode = 6006
	CodeInsufficientVaultGems         ErrorCode = 6007
	CodeInsufficientVaultRarityPoints ErrorCode = 6008
	CodeVaultDoesNotBelongToBank      ErrorCode = 6009
	CodeVaultsNotSetToLock            ErrorCode = 6010
	CodeMutationNotComplete           ErrorCode = 6011
	CodeMutationAlreadyComplete       ErrorCode = 6012
	CodeMutationNotReversible         ErrorCode = 6013
	CodeSerializationIssue            ErrorCode = 6014
	CodeExecutionReceiptMissing       ErrorCode = 6015
	CodeNoneOfTheBanksMatch           ErrorCode = 6016
	CodeTakerVaultNotFound            ErrorCode = 6017
	CodeOutstandingExecutions         ErrorCode = 6018
	CodeUnauthorized                  ErrorCode = 6019
	CodeAccountNotFound               ErrorCode = 6020
	CodeInvalidUses                   ErrorCode = 6021
	CodeInvalidName                   ErrorCode = 6022
	CodeConcurrentModification        ErrorCode = 6023
)

// ErrorKind groups codes by how a caller should react to them.
type ErrorKind string

const (
	KindConfiguration ErrorKind = "CONFIGURATION"
	KindEligibility   ErrorKind = "ELIGIBILITY"
	KindTemporal      ErrorKind = "TEMPORAL"
	KindStateConflict ErrorKind = "STATE_CONFLICT"
	KindArithmetic    ErrorKind = "ARITHMETIC"
	KindAuthorization ErrorKind = "AUTHORIZATION"
	KindNotFound      ErrorKind = "NOT_FOUND"
	KindInternal      ErrorKind = "INTERNAL"
)

type codeInfo struct {
	name string
	msg  string
	kind ErrorKind
}

var codes = map[ErrorCode]codeInfo{
	CodeInvalidTokenIndex:             {"InvalidTokenIndex", "Token index must be one of 1,2,3", KindConfiguration},
	CodeBankDoesNotMatch:              {"BankDoesNotMatch", "Bank account passed != bank account in config", KindConfiguration},
	CodeMintDoesNotMatch:              {"MintDoesNotMatch", "Mint account passed != mint account in config", KindConfiguration},
	CodeCandyMachineMissing:           {"CandyMachineMissing", "Minted mutations require a Candy Machine ID to be present", KindConfiguration},
	CodeArithmeticError:               {"ArithmeticError", "Arithmetic error (likely under/overflow)", KindArithmetic},
	CodeNoMoreUsesLeft:                {"NoMoreUsesLeft", "This mutation has exhausted all of its uses", KindStateConflict},
	CodeIncorrectFunding:              {"IncorrectFunding", "Funding amount doesn't added up to uses * amount per use", KindConfiguration},
	CodeInsufficientVaultGems:         {"InsufficientVaultGems", "This taker's vault doesn't have enough gems", KindEligibility},
	CodeInsufficientVaultRarityPoints: {"InsufficientVaultRarityPoints", "This taker's vault doesn't have enough rarity points", KindEligibility},
	CodeVaultDoesNotBelongToBank:      {"VaultDoesNotBelongToBank", "Passed vault doesn't belong to passed bank", KindEligibility},
	CodeVaultsNotSetToLock:            {"VaultsNotSetToLock", "Reversals require all vaults to be set to Lock", KindConfiguration},
	CodeMutationNotComplete:           {"MutationNotComplete", "Mutation execution hasn't completed yet", KindTemporal},
	CodeMutationAlreadyComplete:       {"MutationAlreadyComplete", "Mutation execution already finished in the past", KindStateConflict},
	CodeMutationNotReversible:         {"MutationNotReversible", "Mutation isn't configured to be reversible", KindStateConflict},
	CodeSerializationIssue:            {"SerializationIssue", "Record serialization issue", KindInternal},
	CodeExecutionReceiptMissing:       {"ExecutionReceiptMissing", "Execution receipt for this taker not found", KindStateConflict},
	CodeNoneOfTheBanksMatch:           {"NoneOfTheBanksMatch", "Trying to init a vault for an unknown bank", KindEligibility},
	CodeTakerVaultNotFound:            {"TakerVaultNotFound", "Taker hasn't initialized one of the required vaults", KindEligibility},
	CodeOutstandingExecutions:         {"OutstandingExecutions", "Mutation still has executions outstanding", KindStateConflict},
	CodeUnauthorized:                  {"Unauthorized", "Signer is not allowed to perform this operation", KindAuthorization},
	CodeAccountNotFound:               {"AccountNotFound", "Account does not exist", KindNotFound},
	CodeInvalidUses:                   {"InvalidUses", "Mutation must have at least one use", KindConfiguration},
	CodeInvalidName:                   {"InvalidName", "Mutation name must fit in 32 bytes", KindConfiguration},
	CodeConcurrentModification:        {"ConcurrentModification", "State changed since it was read, resubmit the operation", KindStateConflict},
}

// Name returns the stable identifier of the code.
func (c ErrorCode) Name() string {
	if info, ok := codes[c]; ok {
		return info.name
	}
	return fmt.Sprintf("Code%d", uint32(c))
}

// Message returns the human readable message of the code.
func (c ErrorCode) Message() string {
	if info, ok := codes[c]; ok {
		return info.msg
	}
	return "unknown error"
}

// Kind returns the taxonomy bucket of the code.
func (c ErrorCode) Kind() ErrorKind {
	if info, ok := codes[c]; ok {
		return info.kind
	}
	return KindInternal
}

// Hex renders the code the way clients of the original program saw it (e.g. 0x1776).
func (c ErrorCode) Hex() string {
	return fmt.Sprintf("0x%x", uint32(c))
}

// Error is a protocol error carrying a stable code and optional detail.
type Error struct {
	Code   ErrorCode
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s (%d): %s", e.Code.Name(), e.Code, e.Code.Message())
	}
	return fmt.Sprintf("%s (%d): %s: %s", e.Code.Name(), e.Code, e.Code.Message(), e.Detail)
}

// Is matches any *Error with the same code, so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Kind returns the taxonomy bucket of the error.
func (e *Error) Kind() ErrorKind {
	return e.Code.Kind()
}

// Errorf creates an error for code with a formatted detail.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Detail: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the protocol code from err. ok is false for foreign errors.
func CodeOf(err error) (ErrorCode, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return 0, false
}

// Sentinels for errors.Is.
var (
	ErrInvalidTokenIndex             = &Error{Code: CodeInvalidTokenIndex}
	ErrBankDoesNotMatch              = &Error{Code: CodeBankDoesNotMatch}
	ErrMintDoesNotMatch              = &Error{Code: CodeMintDoesNotMatch}
	ErrArithmetic                    = &Error{Code: CodeArithmeticError}
	ErrNoMoreUsesLeft                = &Error{Code: CodeNoMoreUsesLeft}
	ErrIncorrectFunding              = &Error{Code: CodeIncorrectFunding}
	ErrInsufficientVaultGems         = &Error{Code: CodeInsufficientVaultGems}
	ErrInsufficientVaultRarityPoints = &Error{Code: CodeInsufficientVaultRarityPoints}
	ErrVaultDoesNotBelongToBank      = &Error{Code: CodeVaultDoesNotBelongToBank}
	ErrVaultsNotSetToLock            = &Error{Code: CodeVaultsNotSetToLock}
	ErrMutationNotComplete           = &Error{Code: CodeMutationNotComplete}
	ErrMutationAlreadyComplete       = &Error{Code: CodeMutationAlreadyComplete}
	ErrMutationNotReversible         = &Error{Code: CodeMutationNotReversible}
	ErrSerialization                 = &Error{Code: CodeSerializationIssue}
	ErrExecutionReceiptMissing       = &Error{Code: CodeExecutionReceiptMissing}
	ErrNoneOfTheBanksMatch           = &Error{Code: CodeNoneOfTheBanksMatch}
	ErrTakerVaultNotFound            = &Error{Code: CodeTakerVaultNotFound}
	ErrOutstandingExecutions         = &Error{Code: CodeOutstandingExecutions}
	ErrUnauthorized                  = &Error{Code: CodeUnauthorized}
	ErrAccountNotFound               = &Error{Code: CodeAccountNotFound}
	ErrInvalidUses                   = &Error{Code: CodeInvalidUses}
	ErrInvalidName                   = &Error{Code: CodeInvalidName}
	ErrConcurrentModification        = &Error{Code: CodeConcurrentModification}
)
