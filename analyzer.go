package taski

import (
	"errors"
	"go/ast"
	"go/token"
	"log/slog"
	"path/filepath"
	"reflect"
	"runtime"
	"sync"

	"golang.org/x/tools/go/ast/astutil"
	"golang.org/x/tools/go/packages"
)

var (
	errMethodNotFound = errors.New("taski: method not found")
	errUnresolvable   = errors.New("taski: could not load declaring package")
)

// analyzer locates the static dependency set of a task class directly
// from its Go source (spec.md §4.1 "static analysis of exports()
// references", C2). There is no teacher precedent for this component —
// pumped-fn-pumped-go resolves its graph at call time, from live Derive
// invocations, never from source — so the *tooling* is grounded on the
// wider example pack's go/packages and go/ast usage instead (see
// DESIGN.md "Static analyzer"): go/parser + go/ast walk a task's Run/Clean
// method body, and golang.org/x/tools/go/ast/astutil +
// golang.org/x/tools/go/packages give type-aware resolution of which
// package-level Export/Defined slot a given `.Get(ctx)` call targets.
//
// Analysis is conservative by design (spec.md §4.1 "edge case: a
// reference inside dead code or an unreached branch still counts"): it
// walks every statement in a method body regardless of reachability, and
// never tries to prove a branch can't run.
var analysisCache = struct {
	mu sync.Mutex
	m  map[reflect.Type][]reflect.Type
}{m: make(map[reflect.Type][]reflect.Type)}

// analyze populates graph with root's full transitive static dependency
// closure.
func analyze(root reflect.Type, graph *DependencyGraph) error {
	return analyzeRec(root, graph, make(map[reflect.Type]bool), 0)
}

// maxAnalyzerDepth caps recursion along dependency chains. Only a type's
// Run and Clean bodies are scanned; other methods they call on the same
// type are not followed.
const maxAnalyzerDepth = 64

func analyzeRec(t reflect.Type, graph *DependencyGraph, visited map[reflect.Type]bool, depth int) error {
	if visited[t] {
		return nil
	}
	visited[t] = true
	graph.addNode(t)

	if depth > maxAnalyzerDepth {
		slog.Warn("taski analyzer: recursion cap reached", "task", typeName(t))
		return nil
	}

	deps, err := staticDeps(t)
	if err != nil {
		// Conservative failure path (spec.md §4.1 Edge case): a task whose
		// source couldn't be resolved is treated as a leaf with no
		// dependencies rather than aborting the whole analysis.
		slog.Warn("taski analyzer: could not resolve static deps, treating as leaf", "task", typeName(t), "err", err)
		return nil
	}

	for _, dep := range deps {
		graph.addEdge(t, dep)
		if err := analyzeRec(dep, graph, visited, depth+1); err != nil {
			return err
		}
	}
	return nil
}

// staticDeps returns the memoized, once-computed set of task types t's
// Run/Clean methods reference via Export[T].Get or Defined[T].Get calls.
func staticDeps(t reflect.Type) ([]reflect.Type, error) {
	analysisCache.mu.Lock()
	if cached, ok := analysisCache.m[t]; ok {
		analysisCache.mu.Unlock()
		return cached, nil
	}
	analysisCache.mu.Unlock()

	var out []reflect.Type
	for _, methodName := range []string{"Run", "Clean"} {
		deps, err := methodStaticDeps(t, methodName)
		if err != nil {
			continue // method may not exist (e.g. Clean is optional)
		}
		for _, d := range deps {
			out = appendUniqueType(out, d)
		}
	}

	analysisCache.mu.Lock()
	analysisCache.m[t] = out
	analysisCache.mu.Unlock()
	return out, nil
}

// methodStaticDeps parses the source file that defines t's methodName
// method and collects every other registered task type referenced through
// a `.Get(ctx)` call on a package-level Export/Defined variable.
func methodStaticDeps(t reflect.Type, methodName string) ([]reflect.Type, error) {
	method, ok := reflect.PtrTo(t).MethodByName(methodName)
	if !ok {
		if method, ok = t.MethodByName(methodName); !ok {
			return nil, errMethodNotFound
		}
	}

	pc := method.Func.Pointer()
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return nil, errMethodNotFound
	}
	file, _ := fn.FileLine(pc)
	if file == "" {
		return nil, errMethodNotFound
	}

	cfg := &packages.Config{
		Mode:  packages.NeedSyntax | packages.NeedTypes | packages.NeedTypesInfo | packages.NeedFiles | packages.NeedCompiledGoFiles,
		Dir:   filepath.Dir(file),
		Tests: true, // task fixtures defined in _test.go files must resolve too
	}
	pkgs, err := packages.Load(cfg, "file="+file)
	if err != nil || len(pkgs) == 0 {
		return nil, errUnresolvable
	}

	var decl *ast.FuncDecl
	var astFile *ast.File
	var pkg *packages.Package
	for _, candidate := range pkgs {
		for _, f := range candidate.Syntax {
			pos := candidate.Fset.Position(f.Pos())
			if pos.Filename != file {
				continue
			}
			ast.Inspect(f, func(n ast.Node) bool {
				fd, ok := n.(*ast.FuncDecl)
				if !ok || fd.Recv == nil || len(fd.Recv.List) == 0 {
					return true
				}
				if fd.Name.Name != methodName {
					return true
				}
				if receiverTypeName(fd.Recv.List[0].Type) == t.Name() {
					decl = fd
					astFile = f
					pkg = candidate
				}
				return true
			})
		}
		if decl != nil {
			break
		}
	}
	if decl == nil || pkg == nil {
		return nil, errMethodNotFound
	}

	var deps []reflect.Type
	ast.Inspect(decl.Body, func(n ast.Node) bool {
		call, ok := n.(*ast.CallExpr)
		if !ok {
			return true
		}
		sel, ok := call.Fun.(*ast.SelectorExpr)
		if !ok || sel.Sel.Name != "Get" {
			return true
		}
		if dep, ok := resolveSlotOwner(pkg, astFile, sel.X, t); ok {
			deps = append(deps, dep)
		}
		return true
	})
	return deps, nil
}

// resolveSlotOwner follows a `.Get` receiver expression back to the
// package-level var declaration that produced it (an Export[T]/Defined[T]
// value from NewExport/Define), then reads that call's owner argument to
// find the dependency's reflect.Type, matching it against the registry's
// qualified-name index (registry.go).
func resolveSlotOwner(pkg *packages.Package, file *ast.File, recv ast.Expr, self reflect.Type) (reflect.Type, bool) {
	ident := identOf(recv)
	if ident == nil {
		return nil, false
	}

	obj := pkg.TypesInfo.Uses[ident]
	if obj == nil {
		obj = pkg.TypesInfo.Defs[ident]
	}
	if obj == nil {
		return nil, false
	}

	spec := findValueSpec(file, ident.Name)
	if spec == nil {
		return nil, false
	}

	ownerExpr := ownerArgOf(spec)
	if ownerExpr == nil {
		return nil, false
	}

	name := typeExprName(ownerExpr)
	if name == "" {
		return nil, false
	}
	if name == self.Name() {
		return nil, false // self-reference through a recursive helper, not a real cross-task edge
	}

	globalRegistry.mu.Lock()
	defer globalRegistry.mu.Unlock()

	// Fast path: the owner expression names a type declared in the same
	// package as the Export/Defined variable, which covers the common
	// case (exports are usually referenced from within their own package
	// or from the task that declares the var). Falls back to a short-name
	// scan for selector-qualified owners from an imported package, since
	// typeExprName only returns the bare identifier in that case.
	if typ, ok := globalRegistry.byName[pkg.PkgPath+"."+name]; ok {
		return typ, true
	}
	for typ := range globalRegistry.factories {
		elem := typ
		for elem.Kind() == reflect.Ptr {
			elem = elem.Elem()
		}
		if elem.Name() == name {
			return typ, true
		}
	}
	return nil, false
}

func identOf(e ast.Expr) *ast.Ident {
	switch v := e.(type) {
	case *ast.Ident:
		return v
	case *ast.SelectorExpr:
		return v.Sel
	default:
		return nil
	}
}

// findValueSpec finds the *ast.ValueSpec in file declaring varName at
// package level (var leafValue = taski.NewExport[...](...)).
func findValueSpec(file *ast.File, varName string) *ast.ValueSpec {
	var found *ast.ValueSpec
	astutil.Apply(file, func(c *astutil.Cursor) bool {
		spec, ok := c.Node().(*ast.ValueSpec)
		if !ok {
			return true
		}
		for _, n := range spec.Names {
			if n.Name == varName {
				found = spec
			}
		}
		return true
	}, nil)
	return found
}

// ownerArgOf extracts the first call argument from a NewExport/Define
// initializer, which is always the owning task's reflect.Type expression.
func ownerArgOf(spec *ast.ValueSpec) ast.Expr {
	if len(spec.Values) == 0 {
		return nil
	}
	call, ok := spec.Values[0].(*ast.CallExpr)
	if !ok || len(call.Args) == 0 {
		return nil
	}
	return call.Args[0]
}

// typeExprName extracts "Leaf" out of reflect.TypeOf(Leaf{}) or
// reflect.TypeOf(&Leaf{}).
func typeExprName(e ast.Expr) string {
	call, ok := e.(*ast.CallExpr)
	if !ok || len(call.Args) == 0 {
		return ""
	}
	arg := call.Args[0]
	if unary, ok := arg.(*ast.UnaryExpr); ok && unary.Op == token.AND {
		arg = unary.X
	}
	lit, ok := arg.(*ast.CompositeLit)
	if !ok {
		return ""
	}
	switch tx := lit.Type.(type) {
	case *ast.Ident:
		return tx.Name
	case *ast.SelectorExpr:
		return tx.Sel.Name
	default:
		return ""
	}
}

func receiverTypeName(e ast.Expr) string {
	if star, ok := e.(*ast.StarExpr); ok {
		e = star.X
	}
	if ident, ok := e.(*ast.Ident); ok {
		return ident.Name
	}
	return ""
}
