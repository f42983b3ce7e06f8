package brimfile

import "math"

// refractive index of water, assumed constant over 20-40 °C
const waterRefractiveIndex = 1.333

// waterSpeedOfSound returns the speed of sound in water in m/s as a function
// of temperature in °C. Quartic polynomial fit to experimental data from
// Supplementary Table 1 of https://doi.org/10.1038/s41566-025-01681-6,
// valid for 20-40 °C.
func waterSpeedOfSound(temperatureC float64) float64 {
	t := temperatureC
	return 1485.115245 +
		-6.273078*t +
		5.308978e-1*t*t +
		-1.319485681e-2*t*t*t +
		1.12602896e-4*t*t*t*t
}

// brillouinShiftWater returns the Brillouin frequency shift of water in GHz
// for the given wavelength (nm), temperature (°C) and scattering angle (deg).
func brillouinShiftWater(wavelengthNm, temperatureC, scatteringAngleDeg float64) float64 {
	theta := scatteringAngleDeg * math.Pi / 180
	return 2 * waterSpeedOfSound(temperatureC) * waterRefractiveIndex *
		math.Sin(theta/2) / wavelengthNm
}
