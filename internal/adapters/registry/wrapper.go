package registry

import (
	"context"
	"fmt"
	"reflect"

	json "github.com/goccy/go-json"

	"github.com/wireflow-run/wireflow/internal/domain"
)

// NodeWrapper adapts a user-defined struct exposing typed
//
//	GetName() string
//	Execute(ctx context.Context, input InputT, config ConfigT) (ResultT, error)
//
// methods onto ports.NodePort, marshalling across the json.RawMessage
// boundary via reflection so node authors never see the wire format.
// Grounded on the teacher's node_registry NodeWrapper; simplified since
// this engine's nodes return plain output values rather than routing
// decisions (all successors always run, per the scheduler's readiness rule).
type NodeWrapper struct {
	original    interface{}
	name        string
	inputType   reflect.Type
	configType  reflect.Type
	executeFunc reflect.Value
}

func NewNodeWrapper(node interface{}) (*NodeWrapper, error) {
	if node == nil {
		return nil, domain.ErrInvalidInput
	}

	t := reflect.TypeOf(node)

	nameMethod, ok := t.MethodByName("GetName")
	if !ok || nameMethod.Type.NumIn() != 1 || nameMethod.Type.NumOut() != 1 {
		return nil, domain.NewValidationError("node", "must implement GetName() string")
	}

	execMethod, ok := t.MethodByName("Execute")
	if !ok || execMethod.Type.NumOut() != 2 {
		return nil, domain.NewValidationError("node", "must implement Execute(ctx, input, config) (result, error)")
	}
	numIn := execMethod.Type.NumIn()
	if numIn < 2 || numIn > 4 {
		return nil, domain.NewValidationError("node", "Execute must take (ctx[, input[, config]])")
	}

	var inputType, configType reflect.Type
	if numIn >= 3 {
		inputType = execMethod.Type.In(2)
	}
	if numIn >= 4 {
		configType = execMethod.Type.In(3)
	}

	nameVal := reflect.ValueOf(node).MethodByName("GetName")
	name := nameVal.Call(nil)[0].String()

	return &NodeWrapper{
		original:    node,
		name:        name,
		inputType:   inputType,
		configType:  configType,
		executeFunc: reflect.ValueOf(node).MethodByName("Execute"),
	}, nil
}

func (nw *NodeWrapper) GetName() string {
	return nw.name
}

func (nw *NodeWrapper) Execute(ctx context.Context, input json.RawMessage, config json.RawMessage) (*domain.NodeResult, error) {
	callArgs := []reflect.Value{reflect.ValueOf(ctx)}

	if nw.inputType != nil {
		inputVal := reflect.New(nw.inputType)
		if len(input) > 0 {
			if err := json.Unmarshal(input, inputVal.Interface()); err != nil {
				return nil, domain.NewDiscoveryError("node-wrapper", "unmarshal_input", err)
			}
		}
		callArgs = append(callArgs, inputVal.Elem())
	}

	if nw.configType != nil {
		configVal := reflect.New(nw.configType)
		if len(config) > 0 {
			if err := json.Unmarshal(config, configVal.Interface()); err != nil {
				return nil, &domain.NodeTerminalError{
					NodeID:  nw.name,
					Message: "config rejected by node factory",
					Cause:   fmt.Errorf("%w: %v", domain.ErrInvalidNodeConfig, err),
				}
			}
		}
		callArgs = append(callArgs, configVal.Elem())
	}

	results := nw.executeFunc.Call(callArgs)

	if errVal := results[1].Interface(); errVal != nil {
		return nil, errVal.(error)
	}

	output, err := json.Marshal(results[0].Interface())
	if err != nil {
		return nil, domain.NewDiscoveryError("node-wrapper", "marshal_result", err)
	}

	return &domain.NodeResult{Output: output}, nil
}
