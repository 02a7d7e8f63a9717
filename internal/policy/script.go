package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dop251/goja"
	lua "github.com/yuin/gopher-lua"

	"github.com/botdeployer/deployer/internal/deploy"
)

type Language string

const (
	LanguageLua Language = "lua"
	LanguageJS  Language = "js"
)

const defaultScriptTimeout = 2 * time.Second

// ErrRejected is returned when a policy's check returns false.
var ErrRejected = errors.New("rejected by policy")

// ScriptGate evaluates a user supplied check(deployment) function written in
// Lua or JavaScript. The function returns true or nothing to pass, false to
// reject, or a string that becomes the failure reason.
type ScriptGate struct {
	lang    Language
	source  string
	name    string
	timeout time.Duration
	logger  *slog.Logger
}

// LoadScriptGate reads a policy from path; the extension picks the language.
func LoadScriptGate(path string, timeout time.Duration, logger *slog.Logger) (*ScriptGate, error) {
	var lang Language
	switch strings.ToLower(filepath.Ext(path)) {
	case ".lua":
		lang = LanguageLua
	case ".js":
		lang = LanguageJS
	default:
		return nil, fmt.Errorf("unsupported policy script %q: want .lua or .js", path)
	}

	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy script: %w", err)
	}
	g, err := NewScriptGate(lang, string(src), timeout, logger)
	if err != nil {
		return nil, err
	}
	g.name = filepath.Base(path)
	return g, nil
}

// NewScriptGate compiles source once to catch syntax errors early.
func NewScriptGate(lang Language, source string, timeout time.Duration, logger *slog.Logger) (*ScriptGate, error) {
	if timeout <= 0 {
		timeout = defaultScriptTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	switch lang {
	case LanguageLua:
		L := lua.NewState()
		_, err := L.LoadString(source)
		L.Close()
		if err != nil {
			return nil, fmt.Errorf("compile lua policy: %w", err)
		}
	case LanguageJS:
		if _, err := goja.Compile("policy.js", source, false); err != nil {
			return nil, fmt.Errorf("compile js policy: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported policy language %q", lang)
	}

	return &ScriptGate{
		lang:    lang,
		source:  source,
		name:    "policy." + string(lang),
		timeout: timeout,
		logger:  logger,
	}, nil
}

func (g *ScriptGate) Check(ctx context.Context, d *deploy.Deployment) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	log := g.logger.With("policy", g.name, "deployment_id", d.ID)
	input := deploymentInput(d)

	var (
		verdict any
		err     error
	)
	if g.lang == LanguageLua {
		verdict, err = g.runLua(ctx, log, input)
	} else {
		verdict, err = g.runJS(ctx, log, input)
	}
	if err != nil {
		return fmt.Errorf("policy script error: %w", err)
	}

	switch v := verdict.(type) {
	case nil:
		return nil
	case bool:
		if v {
			return nil
		}
		return ErrRejected
	case string:
		if v == "" {
			return nil
		}
		return errors.New(v)
	default:
		return fmt.Errorf("policy script error: unexpected verdict %T", v)
	}
}

func (g *ScriptGate) runLua(ctx context.Context, log *slog.Logger, input map[string]any) (any, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()
	for _, lib := range []struct {
		name string
		open lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.open))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}

	L.SetGlobal("print", L.NewFunction(func(L *lua.LState) int {
		parts := make([]string, 0, L.GetTop())
		for i := 1; i <= L.GetTop(); i++ {
			parts = append(parts, L.ToStringMeta(L.Get(i)).String())
		}
		log.Debug("policy output", "line", strings.Join(parts, "\t"))
		return 0
	}))
	L.SetContext(ctx)

	if err := L.DoString(g.source); err != nil {
		return nil, err
	}
	check := L.GetGlobal("check")
	if check.Type() != lua.LTFunction {
		return nil, errors.New("check function not defined")
	}

	L.Push(check)
	L.Push(goToLua(L, input))
	if err := L.PCall(1, 1, nil); err != nil {
		return nil, err
	}

	switch ret := L.Get(-1).(type) {
	case lua.LBool:
		return bool(ret), nil
	case lua.LString:
		return string(ret), nil
	case *lua.LNilType:
		return nil, nil
	default:
		return nil, fmt.Errorf("check returned %s, want boolean, string or nil", ret.Type())
	}
}

func (g *ScriptGate) runJS(ctx context.Context, log *slog.Logger, input map[string]any) (any, error) {
	vm := goja.New()

	console := vm.NewObject()
	console.Set("log", func(call goja.FunctionCall) goja.Value {
		args := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			args[i] = arg.String()
		}
		log.Debug("policy output", "line", strings.Join(args, " "))
		return goja.Undefined()
	})
	vm.Set("console", console)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()

	if _, err := vm.RunString(g.source); err != nil {
		return nil, err
	}
	check, ok := goja.AssertFunction(vm.Get("check"))
	if !ok {
		return nil, errors.New("check function not defined")
	}

	ret, err := check(goja.Undefined(), vm.ToValue(input))
	if err != nil {
		return nil, err
	}
	if ret == nil || goja.IsUndefined(ret) || goja.IsNull(ret) {
		return nil, nil
	}
	switch v := ret.Export().(type) {
	case bool, string:
		return v, nil
	default:
		return nil, fmt.Errorf("check returned %T, want boolean, string or nothing", v)
	}
}

func deploymentInput(d *deploy.Deployment) map[string]any {
	logs := make([]any, len(d.Logs))
	for i, l := range d.Logs {
		logs[i] = l
	}
	return map[string]any{
		"id":     d.ID,
		"botId":  d.BotID,
		"status": string(d.Status),
		"logs":   logs,
		"config": d.Config,
	}
}

func goToLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case float64:
		return lua.LNumber(val)
	case int:
		return lua.LNumber(float64(val))
	case int64:
		return lua.LNumber(float64(val))
	case string:
		return lua.LString(val)
	case bool:
		return lua.LBool(val)
	case map[string]any:
		t := L.NewTable()
		for k, v := range val {
			L.SetField(t, k, goToLua(L, v))
		}
		return t
	case []any:
		t := L.NewTable()
		for i, v := range val {
			L.SetTable(t, lua.LNumber(i+1), goToLua(L, v))
		}
		return t
	default:
		return lua.LNil
	}
}
