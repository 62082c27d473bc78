package dto

import "github.com/pion/webrtc/v4"

type RoomsResponse struct {
	Rooms []string `json:"rooms"`
}

type ICEServersResponse struct {
	ICEServers []webrtc.ICEServer `json:"iceServers"`
}
