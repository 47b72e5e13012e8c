package heap

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/rootstack"
	"github.com/wippyai/rootstack/errors"
)

// Include implements rootstack.Runtime. WebAssembly modules (.wasm) are
// compiled and instantiated; every exported function with numeric
// parameters and at most one result becomes a global Function named after
// the export.
func (rt *Runtime) Include(path string) error {
	_, err := rt.IncludeAs(path, "")
	return err
}

// IncludeAs is Include with an explicit module name; exports are bound as
// "name.export". An empty name binds exports unqualified and names the
// module after the file. It returns the bound global names in order.
func (rt *Runtime) IncludeAs(path, name string) ([]string, error) {
	if !filepath.IsAbs(path) && rt.cfg.Dir != "" {
		path = filepath.Join(rt.cfg.Dir, path)
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFound(errors.PhaseLoad, "file", path)
		}
		return nil, errors.Load("stat "+path, err)
	}
	if !strings.EqualFold(filepath.Ext(path), ".wasm") {
		return nil, errors.Unsupported(errors.PhaseLoad, "cannot include "+filepath.Ext(path)+" files")
	}

	bin, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Load("read "+path, err)
	}

	modName := name
	if modName == "" {
		modName = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return rt.LoadModule(modName, bin, name != "")
}

// LoadModule instantiates a wasm binary under modName and binds its exports.
func (rt *Runtime) LoadModule(modName string, bin []byte, qualified bool) ([]string, error) {
	w, err := rt.wasmRuntime()
	if err != nil {
		return nil, err
	}

	compiled, err := w.CompileModule(rt.ctx, bin)
	if err != nil {
		return nil, errors.Load("compile "+modName, err)
	}
	mod, err := w.InstantiateModule(rt.ctx, compiled, wazero.NewModuleConfig().WithName(modName))
	if err != nil {
		return nil, errors.Wrap(errors.PhaseLoad, errors.KindInvalidInput, err, "instantiate "+modName)
	}
	rt.mu.Lock()
	rt.modules = append(rt.modules, mod)
	rt.mu.Unlock()

	defs := mod.ExportedFunctionDefinitions()
	exports := make([]string, 0, len(defs))
	for export := range defs {
		exports = append(exports, export)
	}
	sort.Strings(exports)

	var bound []string
	for _, export := range exports {
		def := defs[export]
		if !numeric(def.ParamTypes()) || !numeric(def.ResultTypes()) || len(def.ResultTypes()) > 1 {
			Logger().Debug("skipping export", zap.String("module", modName), zap.String("export", export))
			continue
		}
		global := export
		if qualified {
			global = modName + "." + export
		}
		r := rt.alloc(object{kind: KindFunction, fn: &function{
			name:    global,
			wasm:    mod.ExportedFunction(export),
			params:  def.ParamTypes(),
			results: def.ResultTypes(),
		}})
		rt.SetGlobal(global, r)
		bound = append(bound, global)
	}

	Logger().Info("module included", zap.String("module", modName), zap.Strings("functions", bound))
	return bound, nil
}

func (rt *Runtime) wasmRuntime() (wazero.Runtime, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.exited {
		return nil, errors.NotInitialized(errors.PhaseLoad, "runtime")
	}
	if rt.wasm == nil {
		cfg := wazero.NewRuntimeConfig()
		if rt.cfg.MemoryLimitPages > 0 {
			cfg = cfg.WithMemoryLimitPages(rt.cfg.MemoryLimitPages)
		}
		rt.wasm = wazero.NewRuntimeWithConfig(rt.ctx, cfg)
	}
	return rt.wasm, nil
}

// closeWasm closes every instantiated module, then the wasm runtime.
func (rt *Runtime) closeWasm(w wazero.Runtime, mods []api.Module) error {
	var err error
	for _, mod := range mods {
		err = multierr.Append(err, mod.Close(rt.ctx))
	}
	return multierr.Append(err, w.Close(rt.ctx))
}

func numeric(vts []api.ValueType) bool {
	for _, vt := range vts {
		switch vt {
		case api.ValueTypeI32, api.ValueTypeI64, api.ValueTypeF32, api.ValueTypeF64:
		default:
			return false
		}
	}
	return true
}

// Function returns the global function bound to name.
func (rt *Runtime) Function(name string) (rootstack.Ref, error) {
	r, err := rt.Global(name)
	if err != nil {
		return rootstack.Null, err
	}
	if k := rt.KindOf(r); k != KindFunction {
		return rootstack.Null, errors.TypeMismatch(errors.PhaseCall, []string{name}, KindFunction.String(), k.String())
	}
	return r, nil
}
