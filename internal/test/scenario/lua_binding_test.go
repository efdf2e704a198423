//go:build scenario

package scenario

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"github.com/Shopify/go-lua"
)

const scenarioTypeName = "scenario"

// Scenario is an ordered playthrough script built by a Lua file.
type Scenario struct {
	Name  string
	Steps []Step
}

type Step struct {
	Kind string
	Args map[string]any
}

func loadScenarioFromFile(path string) (*Scenario, error) {
	state := lua.NewState()
	lua.OpenLibraries(state)

	registerLuaTypes(state)

	if err := lua.LoadFile(state, path, ""); err != nil {
		return nil, fmt.Errorf("load lua: %w", err)
	}
	if err := state.ProtectedCall(0, 1, 0); err != nil {
		return nil, fmt.Errorf("run lua: %w", err)
	}

	if state.TypeOf(-1) != lua.TypeUserData {
		state.Pop(1)
		return nil, fmt.Errorf("scenario script must return Scenario")
	}
	ud := state.ToUserData(-1)
	state.Pop(1)
	scenario, ok := ud.(*Scenario)
	if !ok || scenario == nil {
		return nil, fmt.Errorf("scenario script returned invalid Scenario")
	}
	if strings.TrimSpace(scenario.Name) == "" {
		scenario.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return scenario, nil
}

func registerLuaTypes(state *lua.State) {
	lua.NewMetaTable(state, scenarioTypeName)
	state.NewTable()
	lua.SetFunctions(state, scenarioMethods, 0)
	state.SetField(-2, "__index")
	state.Pop(1)

	state.NewTable()
	lua.SetFunctions(state, scenarioConstructor, 0)
	state.SetGlobal("Scenario")
}

var scenarioConstructor = []lua.RegistryFunction{
	{Name: "new", Function: scenarioNew},
}

func scenarioNew(state *lua.State) int {
	name := lua.OptString(state, 1, "")
	scenario := &Scenario{Name: name}
	state.PushUserData(scenario)
	lua.SetMetaTableNamed(state, scenarioTypeName)
	return 1
}

var scenarioMethods = []lua.RegistryFunction{
	{Name: "character", Function: scenarioCharacter},
	{Name: "resolve", Function: scenarioResolve},
	{Name: "expect_grade", Function: scenarioExpectGrade},
	{Name: "expect_flag", Function: scenarioExpectFlag},
	{Name: "expect_no_flag", Function: scenarioExpectNoFlag},
	{Name: "expect_branch", Function: scenarioExpectBranch},
	{Name: "expect_version", Function: scenarioExpectVersion},
	{Name: "expect_coherent", Function: scenarioExpectCoherent},
}

func scenarioCharacter(state *lua.State) int {
	scenario := checkScenario(state)
	id := lua.CheckString(state, 2)
	appendStep(scenario, "character", map[string]any{"id": id})
	return 0
}

func scenarioResolve(state *lua.State) int {
	scenario := checkScenario(state)
	lua.CheckType(state, 2, lua.TypeTable)
	appendStep(scenario, "resolve", tableToMap(state, 2))
	return 0
}

func scenarioExpectGrade(state *lua.State) int {
	scenario := checkScenario(state)
	grade := lua.CheckString(state, 2)
	appendStep(scenario, "expect_grade", map[string]any{"grade": grade})
	return 0
}

func scenarioExpectFlag(state *lua.State) int {
	scenario := checkScenario(state)
	flag := lua.CheckString(state, 2)
	appendStep(scenario, "expect_flag", map[string]any{"flag": flag})
	return 0
}

func scenarioExpectNoFlag(state *lua.State) int {
	scenario := checkScenario(state)
	flag := lua.CheckString(state, 2)
	appendStep(scenario, "expect_no_flag", map[string]any{"flag": flag})
	return 0
}

func scenarioExpectBranch(state *lua.State) int {
	scenario := checkScenario(state)
	branchID := lua.CheckString(state, 2)
	status := lua.CheckString(state, 3)
	appendStep(scenario, "expect_branch", map[string]any{"branch": branchID, "status": status})
	return 0
}

func scenarioExpectVersion(state *lua.State) int {
	scenario := checkScenario(state)
	version := lua.CheckInteger(state, 2)
	appendStep(scenario, "expect_version", map[string]any{"version": version})
	return 0
}

func scenarioExpectCoherent(state *lua.State) int {
	scenario := checkScenario(state)
	appendStep(scenario, "expect_coherent", nil)
	return 0
}

func checkScenario(state *lua.State) *Scenario {
	ud := lua.CheckUserData(state, 1, scenarioTypeName)
	if scenario, ok := ud.(*Scenario); ok && scenario != nil {
		return scenario
	}
	lua.ArgumentError(state, 1, "scenario expected")
	return nil
}

func appendStep(scenario *Scenario, kind string, data map[string]any) {
	if data == nil {
		data = map[string]any{}
	}
	scenario.Steps = append(scenario.Steps, Step{Kind: kind, Args: data})
}

func tableToMap(state *lua.State, index int) map[string]any {
	output := map[string]any{}
	if state.TypeOf(index) != lua.TypeTable {
		return output
	}

	index = state.AbsIndex(index)
	state.PushNil()
	for state.Next(index) {
		if state.TypeOf(-2) == lua.TypeString {
			key, _ := state.ToString(-2)
			output[key] = luaToGo(state, -1)
		}
		state.Pop(1)
	}
	return output
}

func luaToGo(state *lua.State, index int) any {
	switch state.TypeOf(index) {
	case lua.TypeString:
		value, _ := state.ToString(index)
		return value
	case lua.TypeNumber:
		value, _ := state.ToNumber(index)
		return normalizeNumber(value)
	case lua.TypeBoolean:
		return state.ToBoolean(index)
	case lua.TypeTable:
		return tableToGo(state, index)
	default:
		return nil
	}
}

// tableToGo converts a table to a []any when its keys form a 1..n
// sequence, and to a map[string]any otherwise.
func tableToGo(state *lua.State, index int) any {
	index = state.AbsIndex(index)

	isArray := true
	maxIndex := 0
	count := 0
	state.PushNil()
	for state.Next(index) {
		if isArray {
			if state.TypeOf(-2) != lua.TypeNumber {
				isArray = false
			} else if idx, ok := state.ToInteger(-2); ok && idx > 0 {
				count++
				if idx > maxIndex {
					maxIndex = idx
				}
			} else {
				isArray = false
			}
		}
		state.Pop(1)
	}

	if isArray && count == maxIndex {
		items := make([]any, maxIndex)
		for i := 1; i <= maxIndex; i++ {
			state.RawGetInt(index, i)
			items[i-1] = luaToGo(state, -1)
			state.Pop(1)
		}
		return items
	}
	return tableToMap(state, index)
}

func normalizeNumber(value float64) any {
	if math.Mod(value, 1) == 0 {
		return int(value)
	}
	return value
}
