package fitting_test

import (
	"fmt"

	"github.com/nasa-jpl/msquared/fitting"
)

func ExampleOmegaZ_waist() {
	beta := []float64{50, 10, 1.3 * 1064}
	fmt.Printf("%.1f\n", fitting.OmegaZ(beta, 10))
	// Output: 50.0
}

func ExampleOmegaZLambda_rayleighRange() {
	// at one Rayleigh range from the waist the radius grows by sqrt(2)
	f := fitting.OmegaZLambda(1000)
	zr := 3.14159265358979 * 1 * 1 / (1 * 1000)
	fmt.Printf("%.4f\n", f([]float64{1, 0, 1}, zr))
	// Output: 1.4142
}

func ExampleISOOmegaZ_clamp() {
	fmt.Println(fitting.ISOOmegaZ([]float64{-1, 0, 0}, 3))
	// Output: 0
}

func ExampleParseMode() {
	m, _ := fitting.ParseMode("iso")
	fmt.Println(int(m), m)
	// Output: 2 iso
}

func ExampleStopReason() {
	fmt.Println(fitting.StopReason(fitting.StopNotFullRank + fitting.StopBoth))
	// Output: [Problem is not full rank at solution Sum of squares convergence Parameter convergence]
}
