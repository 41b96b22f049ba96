package formats

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
)

// coberturaParser validates Cobertura XML coverage reports.
type coberturaParser struct{}

func (coberturaParser) Tag() Tag {
	return TagCoberturaXML
}

func (coberturaParser) DisplayName() string {
	return "Cobertura XML coverage report"
}

// Validate checks the artifact is well-formed XML with a coverage root
// element. Element content is not inspected; line-rate math belongs to the
// tool that reads the report back out.
func (coberturaParser) Validate(artifact []byte) error {
	dec := xml.NewDecoder(bytes.NewReader(artifact))
	rootSeen := false
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("not well-formed xml: %w", err)
		}
		if se, ok := tok.(xml.StartElement); ok && !rootSeen {
			if se.Name.Local != "coverage" {
				return fmt.Errorf("root element is <%s>, want <coverage>", se.Name.Local)
			}
			rootSeen = true
		}
	}
	if !rootSeen {
		return errors.New("document has no root element")
	}
	return nil
}
