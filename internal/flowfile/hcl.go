package flowfile

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
)

// parseHCL decodes against the block schema of Document; unknown
// attributes and blocks are errors.
func parseHCL(filename string, data []byte) (*Document, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(data, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL: %w", diags)
	}

	var doc Document
	if diags := gohcl.DecodeBody(file.Body, nil, &doc); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL: %w", diagsError(diags))
	}
	return &doc, nil
}

func diagsError(diags hcl.Diagnostics) error {
	if errs := diags.Errs(); len(errs) == 1 {
		return errs[0]
	}
	return diags
}
