package assistant

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

const (
	ToolSaveCustomerInfo      = "save_customer_info"
	ToolSaveAddress           = "save_address"
	ToolAddToCart             = "add_to_cart"
	ToolConfirmAndCreateOrder = "confirm_and_create_order"
	ToolSendProductImage      = "send_product_image"
)

// ToolCall is one structured request emitted by the model. The set of
// implementations is closed; dispatch with a type switch.
type ToolCall interface {
	ToolName() string
	isToolCall()
}

type SaveCustomerInfo struct {
	FullName        string   `json:"full_name" validate:"max=128"`
	PreferredName   string   `json:"preferred_name" validate:"max=64"`
	Phone           string   `json:"phone" validate:"max=20"`
	Height          *float64 `json:"height" validate:"omitempty,min=100,max=250"`
	Weight          *float64 `json:"weight" validate:"omitempty,min=30,max=200"`
	UsualSize       string   `json:"usual_size" validate:"omitempty,oneof=XS S M L XL XXL"`
	StylePreference []string `json:"style_preference" validate:"max=10,dive,max=64"`
}

type SaveAddress struct {
	FullName    string `json:"full_name" validate:"max=128"`
	Phone       string `json:"phone" validate:"max=20"`
	AddressLine string `json:"address_line" validate:"max=255"`
	Ward        string `json:"ward" validate:"max=128"`
	District    string `json:"district" validate:"max=128"`
	City        string `json:"city" validate:"max=128"`
}

type AddToCart struct {
	ProductID string `json:"product_id" validate:"required,uuid"`
	Size      string `json:"size" validate:"max=16"`
	Quantity  int    `json:"quantity" validate:"gte=0,lte=50"`
}

type ConfirmAndCreateOrder struct {
	Confirmed bool `json:"confirmed"`
}

type SendProductImage struct {
	ProductID string `json:"product_id" validate:"required,uuid"`
}

// UnknownTool carries a call whose name is not recognised or whose
// arguments did not decode.
type UnknownTool struct {
	Name string
	Args json.RawMessage
	Err  error
}

func (SaveCustomerInfo) ToolName() string      { return ToolSaveCustomerInfo }
func (SaveAddress) ToolName() string           { return ToolSaveAddress }
func (AddToCart) ToolName() string             { return ToolAddToCart }
func (ConfirmAndCreateOrder) ToolName() string { return ToolConfirmAndCreateOrder }
func (SendProductImage) ToolName() string      { return ToolSendProductImage }
func (u UnknownTool) ToolName() string         { return u.Name }

func (SaveCustomerInfo) isToolCall()      {}
func (SaveAddress) isToolCall()           {}
func (AddToCart) isToolCall()             {}
func (ConfirmAndCreateOrder) isToolCall() {}
func (SendProductImage) isToolCall()      {}
func (UnknownTool) isToolCall()           {}

type rawToolCall struct {
	Name      string          `json:"name"`
	Args      json.RawMessage `json:"args"`
	Arguments json.RawMessage `json:"arguments"`
}

// decodeToolCall turns one raw {name, args} entry into its typed variant.
// Arguments may arrive as an object or as a JSON-encoded string.
func decodeToolCall(raw rawToolCall) ToolCall {
	name := strings.TrimSpace(raw.Name)
	args := raw.Args
	if len(args) == 0 {
		args = raw.Arguments
	}
	args = unquoteArgs(args)
	if len(args) == 0 || string(args) == "null" {
		args = json.RawMessage("{}")
	}

	var (
		call ToolCall
		err  error
	)
	switch name {
	case ToolSaveCustomerInfo:
		var v SaveCustomerInfo
		err = json.Unmarshal(args, &v)
		call = v
	case ToolSaveAddress:
		var v SaveAddress
		err = json.Unmarshal(args, &v)
		call = v
	case ToolAddToCart:
		v := AddToCart{Quantity: 1}
		err = json.Unmarshal(args, &v)
		if v.Quantity == 0 {
			v.Quantity = 1
		}
		call = v
	case ToolConfirmAndCreateOrder:
		var v ConfirmAndCreateOrder
		err = json.Unmarshal(args, &v)
		call = v
	case ToolSendProductImage:
		var v SendProductImage
		err = json.Unmarshal(args, &v)
		call = v
	default:
		return UnknownTool{Name: name, Args: args}
	}
	if err != nil {
		return UnknownTool{Name: name, Args: args, Err: errors.Wrapf(err, "decode %s args", name)}
	}
	return call
}

func unquoteArgs(args json.RawMessage) json.RawMessage {
	trimmed := strings.TrimSpace(string(args))
	if !strings.HasPrefix(trimmed, `"`) {
		return args
	}
	var s string
	if err := json.Unmarshal(args, &s); err != nil {
		return args
	}
	return json.RawMessage(s)
}
