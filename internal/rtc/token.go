package rtc

import (
	"encoding/json"
	"fmt"

	"github.com/ZEGOCLOUD/zego_server_assistant/token/go/src/token04"
)

// RoomPayload is the payload for a room-based token04 token. See ZEGOCLOUD docs.
type RoomPayload struct {
	RoomID       string      `json:"RoomId"`
	Privilege    map[int]int `json:"Privilege"`
	StreamIDList []string    `json:"StreamIdList,omitempty"`
}

// GenerateRoomToken generates a ZEGOCLOUD token04 token for a live-class room.
// Hosts can publish; viewers can only pull. serverSecret must be 32 characters.
func GenerateRoomToken(appID uint32, serverSecret, roomID, userID string, host bool, effectiveTimeSec int64) (string, error) {
	if appID == 0 || serverSecret == "" {
		return "", fmt.Errorf("zego: app_id and server_secret required")
	}
	if len(serverSecret) != 32 {
		return "", fmt.Errorf("zego: server_secret must be 32 characters")
	}
	privilege := map[int]int{
		token04.PrivilegeKeyLogin:   token04.PrivilegeEnable,
		token04.PrivilegeKeyPublish: token04.PrivilegeDisable,
	}
	if host {
		privilege[token04.PrivilegeKeyPublish] = token04.PrivilegeEnable
	}
	payload := RoomPayload{
		RoomID:    roomID,
		Privilege: privilege,
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("zego: marshal payload: %w", err)
	}
	return token04.GenerateToken04(appID, userID, serverSecret, effectiveTimeSec, string(payloadJSON))
}
