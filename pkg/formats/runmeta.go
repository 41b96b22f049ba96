package formats

import (
	"fmt"

	"github.com/valyala/fastjson"
)

// runMetaParser validates free-form run metadata.
type runMetaParser struct{}

func (runMetaParser) Tag() Tag {
	return TagRunMetaJSON
}

func (runMetaParser) DisplayName() string {
	return "run metadata JSON"
}

// Validate checks the artifact is a JSON object. Keys are up to whoever
// wrote the metadata.
func (runMetaParser) Validate(artifact []byte) error {
	var p fastjson.Parser
	v, err := p.ParseBytes(artifact)
	if err != nil {
		return fmt.Errorf("not valid json: %w", err)
	}
	if v.Type() != fastjson.TypeObject {
		return fmt.Errorf("document is %s, want object", v.Type())
	}
	return nil
}
