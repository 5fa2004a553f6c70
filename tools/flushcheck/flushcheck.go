// Package flushcheck reports page mapping changes whose MapperFlush (or
// MapperFlushAll) result is discarded. Callers must either Flush the
// returned value or explicitly Ignore it.
package flushcheck

import (
	"go/ast"
	"go/types"
	"slices"
	"strings"

	"golang.org/x/tools/go/analysis"
	"golang.org/x/tools/go/analysis/passes/inspect"
	"golang.org/x/tools/go/ast/inspector"
)

const vmmPkgPath = "rvmm/kernel/mm/vmm"

// flushTypes lists the vmm types that carry a pending TLB invalidation.
var flushTypes = []string{"MapperFlush", "MapperFlushAll"}

// Analyzer defines the entrypoint.
var Analyzer = &analysis.Analyzer{
	Name:     "flushcheck",
	Doc:      "reports discarded MapperFlush values; page table changes must be flushed or ignored",
	Requires: []*analysis.Analyzer{inspect.Analyzer},
	Run:      run,
}

func run(pass *analysis.Pass) (interface{}, error) {
	insp := pass.ResultOf[inspect.Analyzer].(*inspector.Inspector)

	nodeFilter := []ast.Node{
		(*ast.ExprStmt)(nil),
		(*ast.GoStmt)(nil),
		(*ast.DeferStmt)(nil),
		(*ast.AssignStmt)(nil),
		(*ast.ValueSpec)(nil),
	}

	insp.Preorder(nodeFilter, func(node ast.Node) {
		// Tests routinely drop the zero value returned alongside an error.
		if strings.HasSuffix(pass.Fset.File(node.Pos()).Name(), "_test.go") {
			return
		}

		switch stmt := node.(type) {
		case *ast.ExprStmt:
			if call, ok := ast.Unparen(stmt.X).(*ast.CallExpr); ok {
				checkCall(pass, call, "discarded")
			}
		case *ast.GoStmt:
			checkCall(pass, stmt.Call, "discarded by go statement")
		case *ast.DeferStmt:
			checkCall(pass, stmt.Call, "discarded by defer statement")
		case *ast.AssignStmt:
			checkAssign(pass, stmt.Lhs, stmt.Rhs)
		case *ast.ValueSpec:
			lhs := make([]ast.Expr, len(stmt.Names))
			for i, name := range stmt.Names {
				lhs[i] = name
			}
			checkAssign(pass, lhs, stmt.Values)
		}
	})

	return nil, nil
}

func checkCall(pass *analysis.Pass, call *ast.CallExpr, how string) {
	for _, typeName := range flushResults(pass, call) {
		pass.Reportf(call.Pos(), "%s result of %s %s; call Flush or Ignore", typeName, types.ExprString(call.Fun), how)
	}
}

func checkAssign(pass *analysis.Pass, lhs, rhs []ast.Expr) {
	// x, y := f()
	if len(rhs) == 1 && len(lhs) > 1 {
		results := flushResultIndices(pass, rhs[0])
		for _, index := range results {
			if index < len(lhs) && isBlank(lhs[index]) {
				pass.Reportf(lhs[index].Pos(), "%s result of %s assigned to blank identifier; call Flush or Ignore", typeNameAt(pass, rhs[0], index), types.ExprString(rhs[0]))
			}
		}
		return
	}

	for i := 0; i < len(lhs) && i < len(rhs); i++ {
		if !isBlank(lhs[i]) {
			continue
		}

		if results := flushResultIndices(pass, rhs[i]); len(results) != 0 {
			pass.Reportf(lhs[i].Pos(), "%s value %s assigned to blank identifier; call Flush or Ignore", typeNameAt(pass, rhs[i], 0), types.ExprString(rhs[i]))
		}
	}
}

// flushResults returns the type names of the flush values produced by expr.
func flushResults(pass *analysis.Pass, expr ast.Expr) []string {
	var names []string
	for _, index := range flushResultIndices(pass, expr) {
		names = append(names, typeNameAt(pass, expr, index))
	}
	return names
}

// flushResultIndices returns the positions of the flush values produced by
// expr.
func flushResultIndices(pass *analysis.Pass, expr ast.Expr) []int {
	typ := pass.TypesInfo.TypeOf(expr)
	if typ == nil {
		return nil
	}

	var indices []int
	if tuple, ok := typ.(*types.Tuple); ok {
		for i := 0; i < tuple.Len(); i++ {
			if flushTypeName(tuple.At(i).Type()) != "" {
				indices = append(indices, i)
			}
		}
		return indices
	}

	if flushTypeName(typ) != "" {
		indices = append(indices, 0)
	}
	return indices
}

func typeNameAt(pass *analysis.Pass, expr ast.Expr, index int) string {
	typ := pass.TypesInfo.TypeOf(expr)
	if tuple, ok := typ.(*types.Tuple); ok {
		typ = tuple.At(index).Type()
	}
	return flushTypeName(typ)
}

// flushTypeName returns the name of typ if it is one of the vmm flush types.
func flushTypeName(typ types.Type) string {
	named, ok := types.Unalias(typ).(*types.Named)
	if !ok {
		return ""
	}

	obj := named.Obj()
	if obj.Pkg() == nil || obj.Pkg().Path() != vmmPkgPath || !slices.Contains(flushTypes, obj.Name()) {
		return ""
	}

	return obj.Name()
}

func isBlank(expr ast.Expr) bool {
	ident, ok := expr.(*ast.Ident)
	return ok && ident.Name == "_"
}
