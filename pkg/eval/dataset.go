package eval

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"os"
	"slices"
	"strings"
)

const (
	SplitTrain = "train"
	SplitVal   = "val"
	SplitTest  = "test"

	unknownDifficulty = "unknown"
)

var ErrUnknownSplit = errors.New("unknown split")

// Example is one labeled dataset row.
type Example struct {
	Question   string `json:"nl"`
	SQL        string `json:"sql"`
	Difficulty string `json:"difficulty"`
}

// LoadDataset reads a CSV dataset from path.
func LoadDataset(path string) ([]Example, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer f.Close()
	examples, err := ReadDataset(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset %s: %w", path, err)
	}
	return examples, nil
}

// ReadDataset parses CSV with a header row naming at least the nl and sql
// columns. A missing or blank difficulty becomes "unknown".
func ReadDataset(r io.Reader) ([]Example, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	nlIdx, sqlIdx, diffIdx := -1, -1, -1
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "nl":
			nlIdx = i
		case "sql":
			sqlIdx = i
		case "difficulty":
			diffIdx = i
		}
	}
	if nlIdx < 0 || sqlIdx < 0 {
		return nil, errors.New("dataset header must contain nl and sql columns")
	}

	var examples []Example
	for line := 2; ; line++ {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		ex := Example{
			Question:   field(row, nlIdx),
			SQL:        field(row, sqlIdx),
			Difficulty: field(row, diffIdx),
		}
		if ex.Question == "" || ex.SQL == "" {
			return nil, fmt.Errorf("line %d: nl and sql are required", line)
		}
		if ex.Difficulty == "" {
			ex.Difficulty = unknownDifficulty
		}
		examples = append(examples, ex)
	}
	return examples, nil
}

func field(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// SplitOptions controls the stratified train/val/test split. ValSize is a
// fraction of the whole dataset.
type SplitOptions struct {
	TestSize float64
	ValSize  float64
	Seed     uint64
}

var DefaultSplitOptions = SplitOptions{TestSize: 0.2, ValSize: 0.1, Seed: 42}

func (o SplitOptions) Validate() error {
	if o.TestSize < 0 || o.TestSize >= 1 {
		return fmt.Errorf("test size must be in [0, 1), got %v", o.TestSize)
	}
	if o.ValSize < 0 || o.TestSize+o.ValSize >= 1 {
		return fmt.Errorf("val size must be non-negative and leave room for training, got %v", o.ValSize)
	}
	return nil
}

// Splits is a partition of a dataset.
type Splits struct {
	Train []Example
	Val   []Example
	Test  []Example
}

// ByName returns the named split.
func (s *Splits) ByName(name string) ([]Example, error) {
	switch name {
	case SplitTrain:
		return s.Train, nil
	case SplitVal:
		return s.Val, nil
	case SplitTest:
		return s.Test, nil
	}
	return nil, fmt.Errorf("%w %q (want train, val, or test)", ErrUnknownSplit, name)
}

// Split partitions examples, stratified on difficulty. The test split is cut
// first; val is then cut from the remainder at ValSize/(1-TestSize). The
// result is a pure function of examples and opts.
func Split(examples []Example, opts SplitOptions) (*Splits, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed))

	trainVal, test := stratifiedSplit(rng, examples, opts.TestSize)
	relativeVal := 0.0
	if opts.ValSize > 0 {
		relativeVal = opts.ValSize / (1 - opts.TestSize)
	}
	train, val := stratifiedSplit(rng, trainVal, relativeVal)
	return &Splits{Train: train, Val: val, Test: test}, nil
}

// stratifiedSplit holds out ceil(frac*n) examples, allocated across
// difficulty classes in proportion to their size by largest remainder.
func stratifiedSplit(rng *rand.Rand, examples []Example, frac float64) (rest, held []Example) {
	n := len(examples)
	nHeld := int(math.Ceil(frac*float64(n) - 1e-9))
	if nHeld == 0 {
		rest = slices.Clone(examples)
		rng.Shuffle(len(rest), func(i, j int) { rest[i], rest[j] = rest[j], rest[i] })
		return rest, []Example{}
	}
	nHeld = min(nHeld, n)

	classes := map[string][]Example{}
	for _, ex := range examples {
		classes[ex.Difficulty] = append(classes[ex.Difficulty], ex)
	}
	names := make([]string, 0, len(classes))
	for name := range classes {
		names = append(names, name)
	}
	slices.Sort(names)

	quota := make(map[string]int, len(names))
	remainders := make([]string, 0, len(names))
	allocated := 0
	for _, name := range names {
		exact := float64(nHeld) * float64(len(classes[name])) / float64(n)
		quota[name] = int(math.Floor(exact + 1e-9))
		allocated += quota[name]
		remainders = append(remainders, name)
	}
	slices.SortStableFunc(remainders, func(a, b string) int {
		fa := float64(nHeld)*float64(len(classes[a]))/float64(n) - float64(quota[a])
		fb := float64(nHeld)*float64(len(classes[b]))/float64(n) - float64(quota[b])
		switch {
		case fa > fb:
			return -1
		case fa < fb:
			return 1
		}
		return 0
	})
	for allocated < nHeld {
		progressed := false
		for _, name := range remainders {
			if allocated == nHeld {
				break
			}
			if quota[name] < len(classes[name]) {
				quota[name]++
				allocated++
				progressed = true
			}
		}
		if !progressed {
			break
		}
	}

	rest = make([]Example, 0, n-nHeld)
	held = make([]Example, 0, nHeld)
	for _, name := range names {
		members := slices.Clone(classes[name])
		rng.Shuffle(len(members), func(i, j int) { members[i], members[j] = members[j], members[i] })
		held = append(held, members[:quota[name]]...)
		rest = append(rest, members[quota[name]:]...)
	}
	rng.Shuffle(len(held), func(i, j int) { held[i], held[j] = held[j], held[i] })
	rng.Shuffle(len(rest), func(i, j int) { rest[i], rest[j] = rest[j], rest[i] })
	return rest, held
}
