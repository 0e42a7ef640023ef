package transmuter

import (
	"context"
	"fmt"
	"sync"

	"github.com/Mindburn-Labs/transmuter/pkg/address"
	"github.com/Mindburn-Labs/transmuter/pkg/contracts"
	"github.com/Mindburn-Labs/transmuter/pkg/store"
	"github.com/google/cel-go/cel"
)

// ReceiptQuery selects receipts. Zero address fields match anything. Where
// is an optional CEL expression over `receipt` and `now`, for example
//
//	receipt.state == "Pending" && receipt.mutation_complete_ts <= now
type ReceiptQuery struct {
	Transmuter contracts.Address `json:"transmuter,omitempty"`
	Mutation   contracts.Address `json:"mutation,omitempty"`
	Taker      contracts.Address `json:"taker,omitempty"`
	Where      string            `json:"where,omitempty"`
}

func (s *Service) FindTransmuter(ctx context.Context, key contracts.Address) (*contracts.Transmuter, error) {
	return s.loadTransmuter(ctx, key)
}

// FindTransmuters lists every registry root.
func (s *Service) FindTransmuters(ctx context.Context) ([]*contracts.Transmuter, error) {
	return s.records.ListTransmuters(ctx)
}

func (s *Service) FindMutation(ctx context.Context, key contracts.Address) (*contracts.Mutation, error) {
	return s.loadMutation(ctx, key)
}

// FindMutations lists the mutations of a root, or every mutation when
// transmuter is zero.
func (s *Service) FindMutations(ctx context.Context, transmuter contracts.Address) ([]*contracts.Mutation, error) {
	return s.records.ListMutations(ctx, transmuter)
}

// FindReceipt returns the receipt of a (mutation, taker) pair.
func (s *Service) FindReceipt(ctx context.Context, mutation, taker contracts.Address) (*contracts.ExecutionReceipt, error) {
	key := address.Receipt(mutation, taker)
	rc, err := s.records.GetReceipt(ctx, key)
	if err != nil {
		return nil, notFound(err, "receipt", key)
	}
	return rc, nil
}

// FindAllReceipts returns the receipts matching q.
func (s *Service) FindAllReceipts(ctx context.Context, q ReceiptQuery) ([]*contracts.ExecutionReceipt, error) {
	receipts, err := s.records.ListReceipts(ctx, store.Filter{
		Transmuter: q.Transmuter,
		Mutation:   q.Mutation,
		Taker:      q.Taker,
	})
	if err != nil {
		return nil, err
	}
	if q.Where == "" {
		return receipts, nil
	}

	now := s.clock().Unix()
	out := receipts[:0]
	for _, rc := range receipts {
		ok, err := s.filters.match(q.Where, rc, now)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, rc)
		}
	}
	return out, nil
}

// receiptFilter compiles and caches CEL receipt predicates.
type receiptFilter struct {
	env *cel.Env

	mu       sync.RWMutex
	prgCache map[string]cel.Program
}

func newReceiptFilter() (*receiptFilter, error) {
	env, err := cel.NewEnv(
		cel.Variable("receipt", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("now", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &receiptFilter{env: env, prgCache: make(map[string]cel.Program)}, nil
}

// ValidateWhere compiles a receipt filter expression without running it.
func (s *Service) ValidateWhere(expr string) error {
	_, err := s.filters.program(expr)
	return err
}

func (f *receiptFilter) program(expr string) (cel.Program, error) {
	f.mu.RLock()
	prg, hit := f.prgCache[expr]
	f.mu.RUnlock()
	if hit {
		return prg, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if prg, hit = f.prgCache[expr]; hit {
		return prg, nil
	}
	ast, issues := f.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, contracts.Errorf(contracts.CodeSerializationIssue, "where: %v", issues.Err())
	}
	if t := ast.OutputType(); !t.IsExactType(cel.BoolType) && !t.IsExactType(cel.DynType) {
		return nil, contracts.Errorf(contracts.CodeSerializationIssue, "where: expression yields %s, want bool", t)
	}
	prg, err := f.env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return nil, contracts.Errorf(contracts.CodeSerializationIssue, "where: %v", err)
	}
	f.prgCache[expr] = prg
	return prg, nil
}

func (f *receiptFilter) match(expr string, rc *contracts.ExecutionReceipt, now int64) (bool, error) {
	prg, err := f.program(expr)
	if err != nil {
		return false, err
	}
	executions := int64(rc.Executions)
	if rc.Executions > uint64(1<<63-1) {
		executions = 1<<63 - 1
	}
	out, _, err := prg.Eval(map[string]any{
		"now": now,
		"receipt": map[string]any{
			"key":                  rc.Key.String(),
			"transmuter":           rc.Transmuter.String(),
			"mutation":             rc.Mutation.String(),
			"taker":                rc.Taker.String(),
			"state":                string(rc.State),
			"mutation_complete_ts": rc.MutationCompleteTs,
			"executions":           executions,
		},
	})
	if err != nil {
		return false, contracts.Errorf(contracts.CodeSerializationIssue, "where: %v", err)
	}
	val, ok := out.Value().(bool)
	if !ok {
		return false, contracts.Errorf(contracts.CodeSerializationIssue, "where: result not bool")
	}
	return val, nil
}
