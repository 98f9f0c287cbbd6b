package ws

import "encoding/json"

// Encode wraps payload in the {type, payload} envelope.
func Encode(msgType string, payload interface{}) ([]byte, error) {
	wrapper := SerializedMessage{Type: msgType}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		wrapper.Payload = raw
	}
	return json.Marshal(wrapper)
}

func Serialize(msg Message) ([]byte, error) {
	return Encode(msg.GetType(), msg)
}

func Deserialize(jsonBytes []byte) (Message, error) {
	var wrapper SerializedMessage
	if err := json.Unmarshal(jsonBytes, &wrapper); err != nil {
		return nil, err
	}

	msg, err := CreateMessage(wrapper.Type, typeRegistry)
	if err != nil {
		return nil, err
	}
	if len(wrapper.Payload) == 0 || string(wrapper.Payload) == "null" {
		return msg, nil
	}
	if err := json.Unmarshal(wrapper.Payload, msg); err != nil {
		return nil, err
	}
	return msg, nil
}
