package network

const (
	MsgTypeHeartbeat   = 1
	MsgTypeSubscribe   = 101
	MsgTypeUnsubscribe = 102
	MsgTypeAuth        = 103
	MsgTypeGameCreated = 301
	MsgTypeGameRemoved = 302
	MsgTypeRosterSync  = 303
	MsgTypeOutcome     = 304
	MsgTypeError       = 401
)
