package brimfile_test

import (
	"context"
	"fmt"
	"log"

	"github.com/ctessum/sparse"
	"github.com/prevedel-lab/brimfile"
	"github.com/prevedel-lab/brimfile/store/blob"
)

// Example_create demonstrates creating a file with a dense data group.
func Example_create() {
	ctx := context.Background()

	f, err := brimfile.Create(ctx, blob.NewMemoryStore())
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()

	// One z-plane, 1x2 pixels, 3 spectral points per pixel.
	psd := sparse.ZerosDense(1, 1, 2, 3)
	for i := range psd.Elements {
		psd.Elements[i] = float64(i)
	}
	frequency := sparse.ZerosDense(3)
	copy(frequency.Elements, []float64{-1, 0, 1})

	d, err := f.CreateDataGroup(ctx, psd, frequency, [3]float64{1, 1, 0.5},
		brimfile.WithName("scan-1"))
	if err != nil {
		log.Fatal(err)
	}

	name, err := d.Name(ctx)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(name)
	// Output: scan-1
}

// Example_spectrum demonstrates reading a single spectrum by voxel.
func Example_spectrum() {
	ctx := context.Background()
	f, _ := brimfile.Create(ctx, blob.NewMemoryStore())
	defer f.Close()

	psd := sparse.ZerosDense(1, 1, 2, 3)
	for i := range psd.Elements {
		psd.Elements[i] = float64(i)
	}
	frequency := sparse.ZerosDense(3)
	copy(frequency.Elements, []float64{-1, 0, 1})

	d, err := f.CreateDataGroup(ctx, psd, frequency, [3]float64{1, 1, 1})
	if err != nil {
		log.Fatal(err)
	}

	freq, spec, err := d.Spectrum(ctx, [3]int{0, 0, 1})
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("%d spectral points, %.0f GHz span\n",
		len(spec.Elements), freq.Elements[len(freq.Elements)-1]-freq.Elements[0])
	// Output: 3 spectral points, 2 GHz span
}

// Example_analysis demonstrates storing fit results and reading one back.
func Example_analysis() {
	ctx := context.Background()
	f, _ := brimfile.Create(ctx, blob.NewMemoryStore())
	defer f.Close()

	psd := sparse.ZerosDense(1, 1, 2, 3)
	frequency := sparse.ZerosDense(3)
	d, err := f.CreateDataGroup(ctx, psd, frequency, [3]float64{1, 1, 1})
	if err != nil {
		log.Fatal(err)
	}

	a, err := d.CreateAnalysisResults(ctx)
	if err != nil {
		log.Fatal(err)
	}

	shift := sparse.ZerosDense(1, 1, 2)
	copy(shift.Elements, []float64{7.4, 7.5})

	err = a.AddData(ctx, brimfile.AntiStokes, 0, brimfile.PeakData{
		Shift: brimfile.QuantityData{Values: shift},
	})
	if err != nil {
		log.Fatal(err)
	}

	v, err := a.QuantityAt(ctx, brimfile.Shift, brimfile.AntiStokes, 0, [3]int{0, 0, 1})
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("%.1f %s\n", v.Value, v.Units)
	// Output: 7.5 GHz
}

// Example_metadata demonstrates attaching acquisition metadata to a data group.
func Example_metadata() {
	ctx := context.Background()
	f, _ := brimfile.Create(ctx, blob.NewMemoryStore())
	defer f.Close()

	psd := sparse.ZerosDense(1, 1, 1, 2)
	frequency := sparse.ZerosDense(2)
	d, err := f.CreateDataGroup(ctx, psd, frequency, [3]float64{1, 1, 1})
	if err != nil {
		log.Fatal(err)
	}

	md := d.Metadata()
	err = md.Set(ctx, brimfile.MetadataWavelength, brimfile.Item{Value: 532.0, Units: "nm"})
	if err != nil {
		log.Fatal(err)
	}

	item, err := md.Get(ctx, brimfile.MetadataWavelength)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("%v %s\n", item.Value, item.Units)
	// Output: 532 nm
}
