package formats

import (
	"errors"
	"fmt"

	"github.com/valyala/fastjson"
)

// mantraParser validates mantra requirement-trace JSON exports.
type mantraParser struct{}

func (mantraParser) Tag() Tag {
	return TagMantraJSON
}

func (mantraParser) DisplayName() string {
	return "mantra requirement-trace export"
}

// Validate checks the artifact is JSON carrying a traces array.
func (mantraParser) Validate(artifact []byte) error {
	var p fastjson.Parser
	v, err := p.ParseBytes(artifact)
	if err != nil {
		return fmt.Errorf("not valid json: %w", err)
	}
	traces := v.Get("traces")
	if traces == nil {
		return errors.New("missing traces key")
	}
	if traces.Type() != fastjson.TypeArray {
		return fmt.Errorf("traces is %s, want array", traces.Type())
	}
	return nil
}
