// Package brimfile reads and writes brim files: standardized containers for
// Brillouin microscopy data.
//
// A brim file holds one or more data groups, each with the measured power
// spectral density (PSD), its frequency axis, the spatial layout of the
// measurement, and any number of analysis result groups holding the
// per-voxel quantities produced by fitting the spectral peaks.
//
// # Quick Start
//
// In-memory:
//
//	ctx := context.Background()
//	f, _ := brimfile.Create(ctx, blob.NewMemoryStore())
//
// On disk or in object storage:
//
//	local, _ := blob.NewLocalStore("./measurement.brim")
//	f, _ := brimfile.Open(ctx, local)
//
//	s3Store := blob.NewS3Store(s3Client, "my-bucket", "scans/measurement.brim")
//	f, _ := brimfile.Open(ctx, s3Store)
//
// # Reading Data
//
//	d, _ := f.DataGroup(ctx, 0)
//	freq, psd, _ := d.Spectrum(ctx, [3]int{z, y, x})
//
//	ar, _ := d.AnalysisResults(ctx, 0)
//	img, units, _ := ar.Image(ctx, brimfile.Shift, brimfile.Average, 0)
//
// # Writing Data
//
// Dense volumes store the PSD as (z, y, x, spectrum); sparse acquisitions
// store one row per measured location plus a spatial mapping:
//
//	d, _ := f.CreateDataGroup(ctx, psd, freq, [3]float64{1, 0.5, 0.5})
//	ar, _ := d.CreateAnalysisResults(ctx)
//	_ = ar.AddData(ctx, brimfile.AntiStokes, 0, brimfile.PeakData{
//	    Shift: brimfile.QuantityData{Values: shifts, Units: "GHz"},
//	})
//
// # Derived Quantities
//
// The cross-peak average and the elastic contrast are computed on demand
// and never persisted. The elastic contrast relates the measured shift to
// the Brillouin shift of water under the instrument's wavelength,
// temperature and scattering angle, read from the file metadata.
package brimfile
