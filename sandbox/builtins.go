package sandbox

import (
	"fmt"
	"math"
	"math/big"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// Python built-ins that Starlark leaves out but generated calculations use.

func sum(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var iterable starlark.Iterable
	var start starlark.Value = starlark.MakeInt(0)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "iterable", &iterable, "start?", &start); err != nil {
		return nil, err
	}
	iter := iterable.Iterate()
	defer iter.Done()
	total := start
	var x starlark.Value
	for iter.Next(&x) {
		var err error
		if total, err = starlark.Binary(syntax.PLUS, total, x); err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
	}
	return total, nil
}

// round rounds half to even. Without ndigits the result is an int.
func round(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x starlark.Value
	var ndigits starlark.Value = starlark.None
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &x, &ndigits); err != nil {
		return nil, err
	}
	if i, ok := x.(starlark.Int); ok && ndigits == starlark.None {
		return i, nil
	}
	f, ok := starlark.AsFloat(x)
	if !ok {
		return nil, fmt.Errorf("%s: got %s, want int or float", b.Name(), x.Type())
	}
	if ndigits == starlark.None {
		return starlark.NumberToInt(starlark.Float(math.RoundToEven(f)))
	}
	n, err := starlark.AsInt32(ndigits)
	if err != nil {
		return nil, fmt.Errorf("%s: ndigits: %w", b.Name(), err)
	}
	scale := math.Pow(10, float64(n))
	return starlark.Float(math.RoundToEven(f*scale) / scale), nil
}

const maxIntExponent = 1 << 16

// pow keeps integer results exact for non-negative integer exponents.
func pow(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var base, exp starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &base, &exp); err != nil {
		return nil, err
	}
	bi, baseIsInt := base.(starlark.Int)
	ei, expIsInt := exp.(starlark.Int)
	if baseIsInt && expIsInt && ei.Sign() >= 0 {
		e, ok := ei.Int64()
		if !ok || e > maxIntExponent {
			return nil, fmt.Errorf("%s: exponent too large", b.Name())
		}
		return starlark.MakeBigInt(new(big.Int).Exp(bi.BigInt(), big.NewInt(e), nil)), nil
	}
	x, ok := starlark.AsFloat(base)
	if !ok {
		return nil, fmt.Errorf("%s: got %s, want int or float", b.Name(), base.Type())
	}
	y, ok := starlark.AsFloat(exp)
	if !ok {
		return nil, fmt.Errorf("%s: got %s, want int or float", b.Name(), exp.Type())
	}
	return starlark.Float(math.Pow(x, y)), nil
}
