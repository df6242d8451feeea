package uplink

import (
	"encoding/json"
	"fmt"
	"log"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"roadsense/internal/models"
)

// handleCommand processes one message from the command topic
func (u *Uplink) handleCommand(client mqtt.Client, msg mqtt.Message) {
	if len(msg.Payload()) == 0 {
		log.Printf("[Uplink] Ignoring empty payload on %s, retained: %v", msg.Topic(), msg.Retained())
		return
	}

	var command models.CommandMessage
	if err := json.Unmarshal(msg.Payload(), &command); err != nil {
		log.Printf("[Uplink] Failed to parse command: %v", err)
		u.sendCommandResponse(client, models.CommandResponse{
			Status:    "error",
			Error:     "invalid command format",
			RequestID: "unknown",
		})
		return
	}

	log.Printf("[Uplink] Received command %s (requestID: %s)", command.Command, command.RequestID)

	switch command.Command {
	case "ping":
		u.sendCommandResponse(client, models.CommandResponse{
			Status:    "ok",
			RequestID: command.RequestID,
		})
	case "get_state":
		u.sendCommandResponse(client, u.stateResponse(command.RequestID))
	default:
		u.sendCommandResponse(client, models.CommandResponse{
			Status:    "error",
			Error:     fmt.Sprintf("unknown command: %s", command.Command),
			RequestID: command.RequestID,
		})
	}
}

// stateResponse assembles the get_state ack from one consistent view
// of the retention buffer.
func (u *Uplink) stateResponse(requestID string) models.CommandResponse {
	snapshot := u.store.Snapshot()
	mockMode := u.store.MockMode()
	bufferSize := len(snapshot)

	response := models.CommandResponse{
		Status:     "ok",
		RequestID:  requestID,
		MockMode:   &mockMode,
		BufferSize: &bufferSize,
	}
	if bufferSize > 0 {
		latest := snapshot[bufferSize-1]
		response.Latest = &latest
	}
	return response
}

func (u *Uplink) sendCommandResponse(client mqtt.Client, response models.CommandResponse) {
	responseJSON, err := json.Marshal(response)
	if err != nil {
		log.Printf("[Uplink] Failed to marshal response: %v", err)
		return
	}

	topic := u.topic("acks")
	token := client.Publish(topic, 1, false, responseJSON)
	if !token.WaitTimeout(models.MQTTPublishTimeout) || token.Error() != nil {
		if err := token.Error(); err != nil {
			log.Printf("[Uplink] Failed to publish response: %v", err)
		} else {
			log.Printf("[Uplink] Failed to publish response: timeout")
		}
		return
	}

	log.Printf("[Uplink] Published response to %s: %s", topic, string(responseJSON))
}
