package vpnsync

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const clientFlow = "xtls-rprx-vision"

// ErrNoVLESSInbound is returned when the config has no vless inbound.
var ErrNoVLESSInbound = errors.New("vpnsync: no vless inbound in config")

type xrayClient struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Flow  string `json:"flow"`
}

func vlessInbound(data []byte) (int, error) {
	if !gjson.ValidBytes(data) {
		return -1, fmt.Errorf("vpnsync: config is not valid json")
	}
	idx := -1
	gjson.GetBytes(data, "inbounds").ForEach(func(key, value gjson.Result) bool {
		if value.Get("protocol").String() == "vless" {
			idx = int(key.Int())
			return false
		}
		return true
	})
	if idx < 0 {
		return -1, ErrNoVLESSInbound
	}
	return idx, nil
}

func clientIndex(data []byte, inbound int, identifier string) int {
	found := -1
	path := "inbounds." + strconv.Itoa(inbound) + ".settings.clients"
	gjson.GetBytes(data, path).ForEach(func(key, value gjson.Result) bool {
		if value.Get("id").String() == identifier {
			found = int(key.Int())
			return false
		}
		return true
	})
	return found
}

// AddClientJSON appends identifier to the first vless inbound unless it is
// already present. The bool reports whether data changed.
func AddClientJSON(data []byte, identifier, email string) ([]byte, bool, error) {
	inbound, err := vlessInbound(data)
	if err != nil {
		return nil, false, err
	}
	if clientIndex(data, inbound, identifier) >= 0 {
		return data, false, nil
	}
	client := xrayClient{ID: identifier, Email: email, Flow: clientFlow}
	path := "inbounds." + strconv.Itoa(inbound) + ".settings.clients"
	var value any = []xrayClient{client}
	if gjson.GetBytes(data, path).IsArray() {
		path += ".-1"
		value = client
	}
	out, errSet := sjson.SetBytes(data, path, value)
	if errSet != nil {
		return nil, false, fmt.Errorf("vpnsync: add client: %w", errSet)
	}
	return out, true, nil
}

// RemoveClientJSON drops identifier from the first vless inbound.
func RemoveClientJSON(data []byte, identifier string) ([]byte, bool, error) {
	inbound, err := vlessInbound(data)
	if err != nil {
		return nil, false, err
	}
	idx := clientIndex(data, inbound, identifier)
	if idx < 0 {
		return data, false, nil
	}
	path := "inbounds." + strconv.Itoa(inbound) + ".settings.clients." + strconv.Itoa(idx)
	out, errDelete := sjson.DeleteBytes(data, path)
	if errDelete != nil {
		return nil, false, fmt.Errorf("vpnsync: remove client: %w", errDelete)
	}
	return out, true, nil
}
