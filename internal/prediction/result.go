package prediction

import (
	"encoding/json"
	"fmt"

	"github.com/go-viper/mapstructure/v2"

	"github.com/kalambet/strokeinsight/internal/dataset"
)

// Result is the prediction for one input row together with the row's
// feature values. It serializes as a flat object: the features plus
// "index" and "prediction".
type Result struct {
	Index      int
	Prediction string
	Features   dataset.Row
}

type resultFields struct {
	Index      int            `mapstructure:"index"`
	Prediction string         `mapstructure:"prediction"`
	Features   map[string]any `mapstructure:",remain"`
}

func (r Result) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(r.Features)+2)
	for k, v := range r.Features {
		m[k] = v
	}
	m["index"] = r.Index
	m["prediction"] = r.Prediction
	return json.Marshal(m)
}

func (r *Result) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	res, err := decodeResult(m)
	if err != nil {
		return err
	}
	*r = res
	return nil
}

// decodeResult converts a loosely typed result object into a Result.
func decodeResult(m map[string]any) (Result, error) {
	var f resultFields
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &f,
	})
	if err != nil {
		return Result{}, fmt.Errorf("creating result decoder: %w", err)
	}
	if err := dec.Decode(m); err != nil {
		return Result{}, fmt.Errorf("decoding result: %w", err)
	}

	r := Result{Index: f.Index, Prediction: f.Prediction}
	if len(f.Features) > 0 {
		r.Features = dataset.Row(f.Features)
	}
	return r, nil
}
