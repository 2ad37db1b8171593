package pipeline

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"

	"card-correct/internal/card"
	"card-correct/internal/decode"

	"gocv.io/x/gocv"
)

// patchMatrix builds a deterministic, full-rank color matrix. All values are
// exact multiples of 0.25 so the matrix survives a TSV round trip bit for bit.
func patchMatrix(seed float64) card.Matrix {
	var m card.Matrix
	for i := 0; i < card.PatchCount; i++ {
		m[i][0] = float64((i + 1) * 10)
		m[i][1] = math.Mod(seed+float64(i)*37.5, 255)
		m[i][2] = math.Mod(seed*1.75+float64(i)*21.25, 255)
		m[i][3] = math.Mod(seed*2.5+float64(i)*11.25, 255)
	}
	return m
}

// writeFakeICC writes a blob that passes the ICC header check.
func writeFakeICC(t *testing.T, path string) {
	t.Helper()
	p := make([]byte, 200)
	binary.BigEndian.PutUint32(p[0:4], 200)
	copy(p[36:40], "acsp")
	if err := os.WriteFile(path, p, 0o644); err != nil {
		t.Fatal(err)
	}
}

// fakeDecoder hands out small mats and remembers the last decoded name so
// the engine can key failures per file.
type fakeDecoder struct {
	fail map[string]bool // base name -> decode error
	last string
}

func (d *fakeDecoder) Decode(ctx context.Context, path string, mode decode.Mode) (gocv.Mat, error) {
	name := filepath.Base(path)
	d.last = name
	if d.fail[name] {
		return gocv.Mat{}, fmt.Errorf("decode %s: unreadable or corrupt image", path)
	}
	return gocv.NewMatWithSize(8, 8, gocv.MatTypeCV8UC3), nil
}

// fakeEngine substitutes the card package behind the Engine boundary.
type fakeEngine struct {
	dec           *fakeDecoder
	detectFail    map[string]bool // base name of last decode -> detection error
	sample        card.Matrix
	sampleFlipped *card.Matrix // returned for the reversed grid, nil = same as sample

	sampleCalls int
	correctLog  [][2]card.Matrix
}

func (e *fakeEngine) Detect(img gocv.Mat, cfg card.Config) (*card.Detection, error) {
	if e.detectFail[e.dec.last] {
		return nil, card.ErrCardNotFound
	}
	det := &card.Detection{Radius: 4}
	det.Centers[0].X = 1 // marks the unflipped reading; FlipUD moves it to the far corner
	return det, nil
}

func (e *fakeEngine) Sample(img gocv.Mat, det *card.Detection) (card.Matrix, error) {
	e.sampleCalls++
	if det.Centers[0].X == 0 && e.sampleFlipped != nil {
		return *e.sampleFlipped, nil
	}
	return e.sample, nil
}

func (e *fakeEngine) Correct(img gocv.Mat, src, ref card.Matrix) (gocv.Mat, card.Correction, error) {
	e.correctLog = append(e.correctLog, [2]card.Matrix{src, ref})
	corr, err := card.FitCorrection(src, ref)
	if err != nil {
		return gocv.Mat{}, corr, err
	}
	return img.Clone(), corr, nil
}

func (e *fakeEngine) Review(det *card.Detection, path string) error {
	return os.WriteFile(path, []byte("review"), 0o644)
}

// batchFixture lays out input files, a TSV reference and an ICC profile.
func batchFixture(t *testing.T, inputs []string) BatchConfig {
	t.Helper()
	root := t.TempDir()
	inDir := filepath.Join(root, "in")
	if err := os.MkdirAll(inDir, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range inputs {
		if err := os.WriteFile(filepath.Join(inDir, name), []byte("raw"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	refPath := filepath.Join(root, "ref.tsv")
	if err := patchMatrix(5).WriteTSV(refPath); err != nil {
		t.Fatal(err)
	}

	iccPath := filepath.Join(root, "srgb.icc")
	writeFakeICC(t, iccPath)

	return BatchConfig{
		InputDir:  inDir,
		OutputDir: filepath.Join(root, "out"),
		ReviewDir: filepath.Join(root, "review"),
		RefPath:   refPath,
		RawSuffix: "arw",
		ICCPath:   iccPath,
		Card:      card.DefaultConfig(),
	}
}

func TestRunBatchContinuesPastFailures(t *testing.T) {
	cfg := batchFixture(t, []string{"IMG_003.arw", "IMG_001.arw", "IMG_004.ARW", "IMG_002.arw", "notes.txt"})

	dec := &fakeDecoder{fail: map[string]bool{"IMG_002.arw": true}}
	eng := &fakeEngine{dec: dec, detectFail: map[string]bool{"IMG_003.arw": true}, sample: patchMatrix(60)}
	cfg.Decoder = dec
	cfg.Engine = eng

	summary, err := RunBatch(context.Background(), cfg)
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}

	wantOrder := []string{"IMG_001.arw", "IMG_002.arw", "IMG_003.arw", "IMG_004.ARW"}
	if len(summary.Results) != len(wantOrder) {
		t.Fatalf("got %d results, want %d", len(summary.Results), len(wantOrder))
	}
	for i, want := range wantOrder {
		if summary.Results[i].Input != want {
			t.Errorf("result %d = %s, want %s", i, summary.Results[i].Input, want)
		}
	}

	if summary.Succeeded() != 2 || summary.Failed() != 2 {
		t.Fatalf("succeeded/failed = %d/%d, want 2/2", summary.Succeeded(), summary.Failed())
	}
	if summary.Results[1].Err == nil || summary.Results[2].Err == nil {
		t.Fatal("expected failures for IMG_002 (decode) and IMG_003 (detect)")
	}
	if !errors.Is(summary.Results[2].Err, card.ErrCardNotFound) {
		t.Errorf("IMG_003 error = %v, want ErrCardNotFound", summary.Results[2].Err)
	}

	for _, name := range []string{"IMG_001.tiff", "IMG_004.tiff"} {
		if _, err := os.Stat(filepath.Join(cfg.OutputDir, name)); err != nil {
			t.Errorf("missing output %s: %v", name, err)
		}
	}
	for _, name := range []string{"IMG_002.tiff", "IMG_003.tiff"} {
		if _, err := os.Stat(filepath.Join(cfg.OutputDir, name)); err == nil {
			t.Errorf("unexpected output %s for failed input", name)
		}
	}
	for _, name := range []string{"IMG_001_card.png", "IMG_004_card.png"} {
		if _, err := os.Stat(filepath.Join(cfg.ReviewDir, name)); err != nil {
			t.Errorf("missing review image %s: %v", name, err)
		}
	}
}

func TestRunBatchReferenceSampledOnce(t *testing.T) {
	cfg := batchFixture(t, []string{"a.arw", "b.arw"})

	// Swap the TSV reference for a reference image so the engine pins it.
	refPath := filepath.Join(filepath.Dir(cfg.RefPath), "ref.arw")
	if err := os.WriteFile(refPath, []byte("raw"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg.RefPath = refPath

	dec := &fakeDecoder{}
	eng := &fakeEngine{dec: dec, sample: patchMatrix(42)}
	cfg.Decoder = dec
	cfg.Engine = eng

	summary, err := RunBatch(context.Background(), cfg)
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if summary.Failed() != 0 {
		t.Fatalf("unexpected failures: %+v", summary.Results)
	}

	// One sample for the reference, two per file (grid reading + flipped
	// reading for the orientation check).
	want := 1 + 2*len(summary.Results)
	if eng.sampleCalls != want {
		t.Errorf("sample calls = %d, want %d", eng.sampleCalls, want)
	}

	if _, err := os.Stat(filepath.Join(cfg.ReviewDir, "ref_ref_card.png")); err != nil {
		t.Errorf("missing reference review image: %v", err)
	}
}

func TestRunBatchOrientationPicksNearerReading(t *testing.T) {
	// The fixture reference TSV holds patchMatrix(5).
	ref := patchMatrix(5)
	far := patchMatrix(200)

	tests := []struct {
		name    string
		normal  card.Matrix
		flipped card.Matrix
		want    card.Matrix
	}{
		{"flipped reading nearer", far, ref, ref},
		{"normal reading nearer", ref, far, ref},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := batchFixture(t, []string{"a.arw"})

			dec := &fakeDecoder{}
			flipped := tt.flipped
			eng := &fakeEngine{dec: dec, sample: tt.normal, sampleFlipped: &flipped}
			cfg.Decoder = dec
			cfg.Engine = eng

			summary, err := RunBatch(context.Background(), cfg)
			if err != nil {
				t.Fatalf("RunBatch: %v", err)
			}
			if summary.Failed() != 0 {
				t.Fatalf("unexpected failures: %+v", summary.Results)
			}

			if len(eng.correctLog) != 1 {
				t.Fatalf("Correct called %d times, want 1", len(eng.correctLog))
			}
			if eng.correctLog[0][0] != tt.want {
				t.Error("correction fit from the reading farther from the reference")
			}
			if eng.correctLog[0][1] != ref {
				t.Error("correction fit against a matrix other than the reference")
			}
		})
	}
}

func TestRunBatchReferenceReviewDoesNotShadowInput(t *testing.T) {
	cfg := batchFixture(t, []string{"a.arw"})

	// The reference is the input file itself, the worst-case name collision.
	cfg.RefPath = filepath.Join(cfg.InputDir, "a.arw")

	dec := &fakeDecoder{}
	eng := &fakeEngine{dec: dec, sample: patchMatrix(5)}
	cfg.Decoder = dec
	cfg.Engine = eng

	summary, err := RunBatch(context.Background(), cfg)
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if summary.Failed() != 0 {
		t.Fatalf("unexpected failures: %+v", summary.Results)
	}

	for _, name := range []string{"ref_a_card.png", "a_card.png"} {
		if _, err := os.Stat(filepath.Join(cfg.ReviewDir, name)); err != nil {
			t.Errorf("missing review image %s: %v", name, err)
		}
	}
}

func TestRunBatchFatalConfigErrors(t *testing.T) {
	base := func(t *testing.T) BatchConfig { return batchFixture(t, []string{"a.arw"}) }

	t.Run("no matching inputs", func(t *testing.T) {
		cfg := batchFixture(t, []string{"a.png", "b.txt"})
		if _, err := RunBatch(context.Background(), cfg); err == nil {
			t.Fatal("expected error for empty input set")
		}
	})

	t.Run("unsupported suffix", func(t *testing.T) {
		cfg := base(t)
		cfg.RawSuffix = "jpg"
		if _, err := RunBatch(context.Background(), cfg); err == nil {
			t.Fatal("expected error for unsupported suffix")
		}
	})

	t.Run("bad detection config", func(t *testing.T) {
		cfg := base(t)
		cfg.Card.BlockSize = 100
		if _, err := RunBatch(context.Background(), cfg); err == nil {
			t.Fatal("expected error for even block size")
		}
	})

	t.Run("missing reference", func(t *testing.T) {
		cfg := base(t)
		cfg.RefPath = filepath.Join(cfg.InputDir, "nope.arw")
		if _, err := RunBatch(context.Background(), cfg); err == nil {
			t.Fatal("expected error for missing reference")
		}
	})

	t.Run("bad ICC profile", func(t *testing.T) {
		cfg := base(t)
		bad := filepath.Join(filepath.Dir(cfg.ICCPath), "bad.icc")
		if err := os.WriteFile(bad, []byte("garbage"), 0o644); err != nil {
			t.Fatal(err)
		}
		cfg.ICCPath = bad
		if _, err := RunBatch(context.Background(), cfg); err == nil {
			t.Fatal("expected error for bad ICC profile")
		}
	})

	t.Run("missing input dir", func(t *testing.T) {
		cfg := base(t)
		cfg.InputDir = filepath.Join(cfg.InputDir, "missing")
		if _, err := RunBatch(context.Background(), cfg); err == nil {
			t.Fatal("expected error for missing input directory")
		}
	})
}

func TestNameDerivation(t *testing.T) {
	if got := outputName("IMG_0042.ARW"); got != "IMG_0042.tiff" {
		t.Errorf("outputName = %s", got)
	}
	if got := outputName("scan.v2.nef"); got != "scan.v2.tiff" {
		t.Errorf("outputName = %s", got)
	}
	if got := reviewName("IMG_0042.ARW"); got != "IMG_0042_card.png" {
		t.Errorf("reviewName = %s", got)
	}
}

func TestListInputsSortedAndFiltered(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"c.arw", "a.ARW", "b.arw", "x.png", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.MkdirAll(filepath.Join(dir, "sub.arw"), 0o755); err != nil {
		t.Fatal(err)
	}

	files, err := listInputs(dir, "ARW")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"a.ARW", "b.arw", "c.arw"}
	if len(files) != len(want) {
		t.Fatalf("files = %v, want %v", files, want)
	}
	for i := range want {
		if files[i] != want[i] {
			t.Fatalf("files = %v, want %v", files, want)
		}
	}
}
