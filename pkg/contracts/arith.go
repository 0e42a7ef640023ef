package contracts

import "math/bits"

// TryAdd returns a+b or ErrArithmetic on overflow.
func TryAdd(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, Errorf(CodeArithmeticError, "%d + %d overflows", a, b)
	}
	return sum, nil
}

// TrySub returns a-b or ErrArithmetic on underflow.
func TrySub(a, b uint64) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, Errorf(CodeArithmeticError, "%d - %d underflows", a, b)
	}
	return diff, nil
}

// TryMul returns a*b or ErrArithmetic on overflow.
func TryMul(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, Errorf(CodeArithmeticError, "%d * %d overflows", a, b)
	}
	return lo, nil
}

// AbsInt64 returns |v| as uint64 without overflowing on math.MinInt64.
func AbsInt64(v int64) uint64 {
	if v < 0 {
		return uint64(^v) + 1
	}
	return uint64(v)
}
