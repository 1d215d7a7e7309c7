package repository

import (
	"fmt"

	erpcore "github.com/erp-fd/erp-processing-context"
	"github.com/erp-fd/erp-processing-context/fhirpath"
)

// Constraint is a single entry of ElementDefinition.constraint. The
// expression is compiled during Load; a parse failure aborts the load.
type Constraint struct {
	Key        string
	Severity   erpcore.Severity
	Human      string
	Expression string

	compiled *fhirpath.Expression
}

// Compiled returns the compiled expression. It is always non-nil on
// constraints obtained from a loaded Repository.
func (c *Constraint) Compiled() *fhirpath.Expression { return c.compiled }

// compile parses the expression; called by the loader.
func (c *Constraint) compile() error {
	expr, err := fhirpath.Parse(c.Expression)
	if err != nil {
		return fmt.Errorf("constraint %s: %w", c.Key, err)
	}
	c.compiled = expr
	return nil
}

// String renders the constraint the way summaries print it.
func (c *Constraint) String() string {
	return fmt.Sprintf("%s: %s: %s", c.Severity, c.Key, c.Human)
}
