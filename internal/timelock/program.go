package timelock

import "github.com/algorand/go-algorand-sdk/v2/types"

// Global state keys written by the approval program.
const (
	KeyUnlockTimestamp  = "unlock_timestamp"
	KeyIPFSCID          = "ipfs_cid"
	KeyEmotionTone      = "emotion_tone"
	KeyEmotionIntensity = "emotion_intensity"
)

// Limits on the byte-slice arguments.
const (
	MaxCIDBytes  = 64
	MaxToneBytes = 32
)

// approvalSource stores the four values on creation and answers every later
// NoOp call with LatestTimestamp >= unlock_timestamp. Update, delete, opt-in
// and close-out all fall through to the reject branch.
const approvalSource = `#pragma version 8
txn ApplicationID
int 0
==
bnz create

txn OnCompletion
int NoOp
==
bnz check

int 0
return

create:
byte "unlock_timestamp"
txn ApplicationArgs 0
btoi
app_global_put

byte "ipfs_cid"
txn ApplicationArgs 1
app_global_put

byte "emotion_tone"
txn ApplicationArgs 2
app_global_put

byte "emotion_intensity"
txn ApplicationArgs 3
btoi
app_global_put

int 1
return

check:
global LatestTimestamp
byte "unlock_timestamp"
app_global_get
>=
return
`

const clearSource = `#pragma version 8
int 1
return
`

var (
	globalSchema = types.StateSchema{NumUint: 2, NumByteSlice: 2}
	localSchema  = types.StateSchema{}
)
