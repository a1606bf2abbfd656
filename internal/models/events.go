package models

// Wire event names for the bidirectional push channel. One JSON envelope per
// frame: {"event": <name>, "data": <payload>}.
const (
	// inbound (client -> server)
	EvSelectRole      = "select-role"
	EvLocationUpdate  = "location-update"
	EvGetLocations    = "get-locations"
	EvCreateRequest   = "create-request"
	EvAcceptRequest   = "accept-request"
	EvCancelRequest   = "cancel-request"
	EvCompleteRequest = "complete-request"

	// outbound (server -> client)
	EvRoleSelected     = "role-selected"
	EvLocationShared   = "location-shared"
	EvLocationsData    = "locations-data"
	EvUserOffline      = "user-offline"
	EvNewRequest       = "new-request"
	EvRequestCreated   = "request-created"
	EvRequestAccepted  = "request-accepted"
	EvRequestCancelled = "request-cancelled"
	EvRequestCompleted = "request-completed"
	EvError            = "error"
)

type SelectRolePayload struct {
	Role Role   `json:"role"`
	Name string `json:"name"`
}

type LocationUpdatePayload struct {
	Lat      float64 `json:"latitude"`
	Lng      float64 `json:"longitude"`
	Accuracy float64 `json:"accuracy"`
}

type GetLocationsPayload struct {
	Role Role `json:"role"`
}

type CreateRequestPayload struct {
	TargetID string `json:"targetId"`
}

// RequestRefPayload covers accept-request, cancel-request and
// complete-request, which all address a request by id.
type RequestRefPayload struct {
	RequestID int64 `json:"requestId"`
}

type RoleSelectedPayload struct {
	Role Role   `json:"role"`
	Name string `json:"name"`
}

type LocationSharedPayload struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Role     Role    `json:"role"`
	Lat      float64 `json:"latitude"`
	Lng      float64 `json:"longitude"`
	Accuracy float64 `json:"accuracy"`
}

// LocationEntry is one element of the locations-data snapshot.
type LocationEntry struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Role     Role    `json:"role"`
	Lat      float64 `json:"latitude"`
	Lng      float64 `json:"longitude"`
	Accuracy float64 `json:"accuracy"`
	LastSeen string  `json:"last_seen"`
}

type UserOfflinePayload struct {
	ID string `json:"id"`
}

type NewRequestPayload struct {
	RequestID     int64   `json:"requestId"`
	RequesterID   string  `json:"requesterId"`
	RequesterName string  `json:"requesterName"`
	RequesterLat  float64 `json:"requesterLat"`
	RequesterLng  float64 `json:"requesterLng"`
}

type RequestCreatedPayload struct {
	RequestID int64         `json:"requestId"`
	Status    RequestStatus `json:"status"`
}

type RequestAcceptedPayload struct {
	RequestID    int64   `json:"requestId"`
	AcceptorID   string  `json:"acceptorId"`
	AcceptorName string  `json:"acceptorName"`
	AcceptorLat  float64 `json:"acceptorLat"`
	AcceptorLng  float64 `json:"acceptorLng"`
	RequesterLat float64 `json:"requesterLat"`
	RequesterLng float64 `json:"requesterLng"`
}

type RequestRefEvent struct {
	RequestID int64 `json:"requestId"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
