// Package fpu implements the math-helper entry points FPU opcode lowerings
// call (§6): thin wrappers over math.* for the transcendental functions,
// plus the extended/packed-decimal load-store conversions the guest's
// M68881-compatible FPU performs at the memory boundary. guest.Extended
// holds every FPU register as a float64 internally; these helpers are where
// that float64 meets the 80-bit/96-bit wire formats and back.
package fpu

import "math"

// Sin, Cos, Tan, Asin, Acos, Atan, Atanh, Sinh, Cosh, Tanh, Log, Log10,
// Log2, Log1p, Exp, Exp2, Exp10, Expm1, Sqrt, Fabs, Scalbn and Pow are the
// required double(double[,double]) FPU helper entry points, each a direct
// wrapper over the stdlib math function of the same shape — there is
// nothing guest-specific left to do at this layer since guest.Extended
// already stores every FPU register as a float64.
func Sin(x float64) float64   { return math.Sin(x) }
func Cos(x float64) float64   { return math.Cos(x) }
func Tan(x float64) float64   { return math.Tan(x) }
func Asin(x float64) float64  { return math.Asin(x) }
func Acos(x float64) float64  { return math.Acos(x) }
func Atan(x float64) float64  { return math.Atan(x) }
func Atanh(x float64) float64 { return math.Atanh(x) }
func Sinh(x float64) float64  { return math.Sinh(x) }
func Cosh(x float64) float64  { return math.Cosh(x) }
func Tanh(x float64) float64  { return math.Tanh(x) }
func Log(x float64) float64   { return math.Log(x) }
func Log10(x float64) float64 { return math.Log10(x) }
func Log2(x float64) float64  { return math.Log2(x) }
func Log1p(x float64) float64 { return math.Log1p(x) }
func Exp(x float64) float64   { return math.Exp(x) }
func Exp2(x float64) float64  { return math.Exp2(x) }
func Expm1(x float64) float64 { return math.Expm1(x) }
func Sqrt(x float64) float64  { return math.Sqrt(x) }
func Fabs(x float64) float64  { return math.Abs(x) }

// Exp10 is 10**x; math has no direct equivalent to Exp2, so it goes through
// Pow the same way FEXP10's microcode does on real M68881 silicon.
func Exp10(x float64) float64 { return math.Pow(10, x) }

func Scalbn(x float64, n int) float64 { return math.Ldexp(x, n) }
func Pow(x, y float64) float64        { return math.Pow(x, y) }

// Sincos returns sin(x) and cos(x) together, the combined FSINCOS helper;
// math.Sincos already computes both from one argument reduction the way
// the original's sincos.c does, so there is no reduction logic left to
// port here.
func Sincos(x float64) (sin, cos float64) { return math.Sincos(x) }

// Remquo returns x - round(x/y)*y (the IEEE remainder FREM/FMOD need) along
// with the low 7 bits of the rounded quotient FPSR's quotient byte records.
// Re-expressed from the bit-level musl algorithm in remquo.c as stdlib calls
// rather than transliterated: math.Remainder already implements the exact
// round-to-nearest remainder, so only the quotient low bits need deriving.
func Remquo(x, y float64) (rem float64, quo int) {
	rem = math.Remainder(x, y)
	q := math.Round((x - rem) / y)
	quo = int(math.Mod(q, 128))
	return rem, quo
}
