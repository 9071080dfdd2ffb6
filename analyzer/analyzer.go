// Package analyzer is a go/analysis checker for common non-determinism
// mistakes in workflow.Body.Run implementations: direct wall-clock reads,
// unseeded randomness, and map iteration, none of which replay to the same
// result twice.
package analyzer

import (
	"go/ast"
	"go/types"

	"golang.org/x/tools/go/analysis"
	"golang.org/x/tools/go/analysis/passes/inspect"
	"golang.org/x/tools/go/ast/inspector"
)

var Analyzer = &analysis.Analyzer{
	Name:     "durable",
	Doc:      "checks workflow.Body.Run implementations for non-deterministic constructs",
	Run:      run,
	Requires: []*analysis.Analyzer{inspect.Analyzer},
}

func run(pass *analysis.Pass) (interface{}, error) {
	insp := pass.ResultOf[inspect.Analyzer].(*inspector.Inspector)

	nodeFilter := []ast.Node{(*ast.FuncDecl)(nil)}

	insp.Preorder(nodeFilter, func(node ast.Node) {
		funcDecl := node.(*ast.FuncDecl)

		if !isRunMethod(funcDecl) {
			return
		}

		ast.Inspect(funcDecl.Body, func(n ast.Node) bool {
			switch n := n.(type) {
			case *ast.RangeStmt:
				if t := pass.TypesInfo.TypeOf(n.X); t != nil {
					if _, ok := t.Underlying().(*types.Map); ok {
						pass.Reportf(n.Pos(), "iterating over a map is not deterministic; route the result through ctx.SideEffect instead")
					}
				}

			case *ast.GoStmt:
				pass.Reportf(n.Pos(), "spawning a goroutine inside a workflow body escapes replay; use ctx.SideEffect for concurrent or non-deterministic work")

			case *ast.CallExpr:
				if pkg, name, ok := selectorCall(n); ok {
					switch {
					case pkg == "time" && name == "Now":
						pass.Reportf(n.Pos(), "time.Now is not deterministic across replay; route it through ctx.SideEffect")
					case pkg == "rand" && (name == "Int" || name == "Int63" || name == "Float64" || name == "Intn"):
						pass.Reportf(n.Pos(), "math/rand's package-level %s is not deterministic across replay; route it through ctx.SideEffect", name)
					}
				}
			}

			return true
		})
	})

	return nil, nil
}

// isRunMethod reports whether funcDecl is a method named Run whose first
// parameter is workflow.Context — the shape workflow.Body requires.
func isRunMethod(funcDecl *ast.FuncDecl) bool {
	if funcDecl.Recv == nil || funcDecl.Name.Name != "Run" {
		return false
	}

	if funcDecl.Type.Params == nil || len(funcDecl.Type.Params.List) == 0 {
		return false
	}

	sel, ok := funcDecl.Type.Params.List[0].Type.(*ast.SelectorExpr)
	if !ok {
		return false
	}

	pkgIdent, ok := sel.X.(*ast.Ident)
	if !ok {
		return false
	}

	return pkgIdent.Name == "workflow" && sel.Sel.Name == "Context"
}

// selectorCall reports the package and function name of a call of the shape
// pkg.Func(...), e.g. time.Now or rand.Intn.
func selectorCall(call *ast.CallExpr) (pkg, name string, ok bool) {
	sel, isSel := call.Fun.(*ast.SelectorExpr)
	if !isSel {
		return "", "", false
	}

	ident, isIdent := sel.X.(*ast.Ident)
	if !isIdent {
		return "", "", false
	}

	return ident.Name, sel.Sel.Name, true
}
