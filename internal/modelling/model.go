// Package modelling fits and applies a linear regression of bike path density
// against the other per-cell features.
package modelling

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"slices"

	"github.com/UnknownOlympus/hexatlas/internal/features"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Errors returned by the modelling package.
var (
	ErrMissingValue     = errors.New("feature value is null")
	ErrNoFeatures       = errors.New("table has no feature columns")
	ErrInsufficientData = errors.New("not enough rows to fit the model")
	ErrColumnMismatch   = errors.New("tables do not share the same feature columns")
	ErrFactorization    = errors.New("design matrix factorization failed")
)

// TargetColumn is the column the model predicts.
const TargetColumn = features.BikePathsColumn

// rcond is the relative singular value cut-off used for the least squares rank.
const rcond = 1e-10

// Options control how tables are turned into matrices.
type Options struct {
	// ZeroFillMissing reads null values as 0 instead of failing.
	ZeroFillMissing bool
}

// Model is an ordinary least squares fit on standardized features.
type Model struct {
	Features     []string       `json:"features"`
	Target       string         `json:"target"`
	Scaler       StandardScaler `json:"scaler"`
	Intercept    float64        `json:"intercept"`
	Coefficients []float64      `json:"coefficients"`
	Options      Options        `json:"options"`
}

// Evaluation summarises a model's fit on a table.
type Evaluation struct {
	N    int     `json:"n"`
	R2   float64 `json:"r2"`
	RMSE float64 `json:"rmse"`
}

// FeatureColumns returns the model inputs of t: every value column except the
// target and a previous prediction.
func FeatureColumns(t *features.Table) []string {
	var cols []string
	for _, c := range t.Columns() {
		if c == TargetColumn || c == features.PredictionColumn {
			continue
		}
		cols = append(cols, c)
	}

	return cols
}

// Fit trains a model on the rows of all tables. Every table must carry the
// target and the same feature columns as the first one.
func Fit(tables []*features.Table, opts Options) (*Model, error) {
	if len(tables) == 0 {
		return nil, ErrInsufficientData
	}
	cols := FeatureColumns(tables[0])
	if len(cols) == 0 {
		return nil, ErrNoFeatures
	}

	var (
		rows   [][]float64
		target []float64
	)
	for i, t := range tables {
		if !slices.Equal(FeatureColumns(t), cols) {
			return nil, fmt.Errorf("%w: table %d", ErrColumnMismatch, i)
		}
		x, err := matrixRows(t, cols, opts)
		if err != nil {
			return nil, fmt.Errorf("table %d: %w", i, err)
		}
		y, err := vector(t, TargetColumn, opts)
		if err != nil {
			return nil, fmt.Errorf("table %d: %w", i, err)
		}
		rows = append(rows, x...)
		target = append(target, y...)
	}
	if len(rows) <= len(cols) {
		return nil, fmt.Errorf("%w: %d rows for %d features", ErrInsufficientData, len(rows), len(cols))
	}

	x := dense(rows, len(cols))
	scaler := FitScaler(x)
	scaled := scaler.Transform(x)

	// Design matrix with a leading intercept column.
	n := len(rows)
	design := mat.NewDense(n, len(cols)+1, nil)
	for i := range n {
		design.Set(i, 0, 1)
		for j := range cols {
			design.Set(i, j+1, scaled.At(i, j))
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(design, mat.SVDThin); !ok {
		return nil, ErrFactorization
	}
	var beta mat.VecDense
	svd.SolveVecTo(&beta, mat.NewVecDense(n, target), svd.Rank(rcond))

	coef := make([]float64, len(cols))
	for j := range cols {
		coef[j] = beta.AtVec(j + 1)
	}

	return &Model{
		Features:     cols,
		Target:       TargetColumn,
		Scaler:       scaler,
		Intercept:    beta.AtVec(0),
		Coefficients: coef,
		Options:      opts,
	}, nil
}

// predictions returns one estimate per row of t.
func (m *Model) predictions(t *features.Table) ([]float64, error) {
	for _, c := range m.Features {
		if !t.HasColumn(c) {
			return nil, fmt.Errorf("%w: %s", features.ErrUnknownColumn, c)
		}
	}
	rows, err := matrixRows(t, m.Features, m.Options)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return []float64{}, nil
	}

	scaled := m.Scaler.Transform(dense(rows, len(m.Features)))
	var out mat.VecDense
	out.MulVec(scaled, mat.NewVecDense(len(m.Coefficients), m.Coefficients))

	est := make([]float64, len(rows))
	for i := range est {
		est[i] = out.AtVec(i) + m.Intercept
	}

	return est, nil
}

// Predict returns a copy of t with a prediction column. An existing prediction
// column is replaced.
//
// Features are standardized with the scaler fitted on the training tables, so
// a row gets the same estimate whatever other rows t holds. The scaler is not
// re-fitted on t.
func (m *Model) Predict(t *features.Table) (*features.Table, error) {
	est, err := m.predictions(t)
	if err != nil {
		return nil, err
	}

	out := t.Clone()
	if out.HasColumn(features.PredictionColumn) {
		if err = out.DropColumn(features.PredictionColumn); err != nil {
			return nil, err
		}
	}
	values := make([]features.Value, len(est))
	for i, e := range est {
		values[i] = features.Known(e)
	}
	if err = out.SetColumn(features.PredictionColumn, values); err != nil {
		return nil, err
	}

	return out, nil
}

// Evaluate scores the model against the target column of t.
func (m *Model) Evaluate(t *features.Table) (Evaluation, error) {
	est, err := m.predictions(t)
	if err != nil {
		return Evaluation{}, err
	}
	if len(est) == 0 {
		return Evaluation{}, ErrInsufficientData
	}
	y, err := vector(t, m.Target, m.Options)
	if err != nil {
		return Evaluation{}, err
	}

	var sse float64
	for i := range y {
		d := y[i] - est[i]
		sse += d * d
	}

	return Evaluation{
		N:    len(y),
		R2:   rSquared(est, y, sse),
		RMSE: math.Sqrt(sse / float64(len(y))),
	}, nil
}

// rSquared is 1 for a perfect fit of a constant target and 0 for any other
// fit of a constant target, matching the usual convention.
func rSquared(est, y []float64, sse float64) float64 {
	if stat.Variance(y, nil) == 0 || len(y) < 2 {
		if sse == 0 {
			return 1
		}
		return 0
	}

	return stat.RSquaredFrom(est, y, nil)
}

// Save writes the model as JSON.
func (m *Model) Save(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		return fmt.Errorf("failed to encode model: %w", err)
	}

	return nil
}

// SaveFile writes the model to path.
func (m *Model) SaveFile(path string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create model file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close model file: %w", cerr)
		}
	}()

	return m.Save(f)
}

// Load reads a model written by Save.
func Load(r io.Reader) (*Model, error) {
	var m Model
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return nil, fmt.Errorf("failed to decode model: %w", err)
	}
	if len(m.Features) == 0 {
		return nil, ErrNoFeatures
	}
	if len(m.Coefficients) != len(m.Features) ||
		len(m.Scaler.Mean) != len(m.Features) ||
		len(m.Scaler.Scale) != len(m.Features) {
		return nil, fmt.Errorf("failed to decode model: %d features, %d coefficients, %d scaler columns",
			len(m.Features), len(m.Coefficients), len(m.Scaler.Mean))
	}

	return &m, nil
}

// LoadFile reads a model from path.
func LoadFile(path string) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open model file: %w", err)
	}
	defer f.Close()

	return Load(f)
}

func matrixRows(t *features.Table, cols []string, opts Options) ([][]float64, error) {
	rows := make([][]float64, 0, t.Len())
	for _, r := range t.Rows() {
		row := make([]float64, len(cols))
		for j, c := range cols {
			v := r.Get(c)
			if !v.Valid && !opts.ZeroFillMissing {
				return nil, fmt.Errorf("%w: %s at cell %s", ErrMissingValue, c, r.Cell)
			}
			row[j] = v.Float
		}
		rows = append(rows, row)
	}

	return rows, nil
}

func vector(t *features.Table, col string, opts Options) ([]float64, error) {
	values, err := t.Column(col)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(values))
	for i, v := range values {
		if !v.Valid && !opts.ZeroFillMissing {
			return nil, fmt.Errorf("%w: %s at row %d", ErrMissingValue, col, i)
		}
		out[i] = v.Float
	}

	return out, nil
}

func dense(rows [][]float64, cols int) *mat.Dense {
	x := mat.NewDense(len(rows), cols, nil)
	for i, r := range rows {
		x.SetRow(i, r)
	}

	return x
}
