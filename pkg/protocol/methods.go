package protocol

// Class is the dispatch class the router derives for a method.
type Class int

const (
	// ClassUnsupported methods are answered with CodeUnsupportedMethod.
	ClassUnsupported Class = iota

	// ClassReadOnly methods are answered without user involvement.
	ClassReadOnly

	// ClassApproval methods go through the approval surface.
	ClassApproval
)

func (c Class) String() string {
	switch c {
	case ClassReadOnly:
		return "read_only"
	case ClassApproval:
		return "approval"
	default:
		return "unsupported"
	}
}

// Methods the wallet answers directly.
const (
	MethodChainID        = "eth_chainId"
	MethodNetVersion     = "net_version"
	MethodAccounts       = "eth_accounts"
	MethodGetPermissions = "wallet_getPermissions"
)

// Methods that expose accounts or move value.
const (
	MethodRequestAccounts    = "eth_requestAccounts"
	MethodSendTransaction    = "eth_sendTransaction"
	MethodSignTransaction    = "eth_signTransaction"
	MethodSign               = "eth_sign"
	MethodPersonalSign       = "personal_sign"
	MethodSignTypedData      = "eth_signTypedData"
	MethodSignTypedDataV3    = "eth_signTypedData_v3"
	MethodSignTypedDataV4    = "eth_signTypedData_v4"
	MethodAddEthereumChain   = "wallet_addEthereumChain"
	MethodSwitchChain        = "wallet_switchEthereumChain"
	MethodWatchAsset         = "wallet_watchAsset"
	MethodRequestPermissions = "wallet_requestPermissions"
	MethodRevokePermissions  = "wallet_revokePermissions"
)

var approvalMethods = map[string]struct{}{
	MethodRequestAccounts:    {},
	MethodSendTransaction:    {},
	MethodSignTransaction:    {},
	MethodSign:               {},
	MethodPersonalSign:       {},
	MethodSignTypedData:      {},
	MethodSignTypedDataV3:    {},
	MethodSignTypedDataV4:    {},
	MethodAddEthereumChain:   {},
	MethodSwitchChain:        {},
	MethodWatchAsset:         {},
	MethodRequestPermissions: {},
	MethodRevokePermissions:  {},
}

var readOnlyMethods = map[string]struct{}{
	MethodChainID:                {},
	MethodNetVersion:             {},
	MethodAccounts:               {},
	MethodGetPermissions:         {},
	"eth_blockNumber":            {},
	"eth_getBlockByNumber":       {},
	"eth_getBlockByHash":         {},
	"eth_call":                   {},
	"eth_estimateGas":            {},
	"eth_gasPrice":               {},
	"eth_maxPriorityFeePerGas":   {},
	"eth_feeHistory":             {},
	"eth_getBalance":             {},
	"eth_getCode":                {},
	"eth_getTransactionCount":    {},
	"eth_getTransactionReceipt":  {},
	"eth_getTransactionByHash":   {},
	"eth_getStorageAt":           {},
	"eth_getLogs":                {},
	"web3_clientVersion":         {},
}

// Classify returns the dispatch class of method.
func Classify(method string) Class {
	if _, ok := approvalMethods[method]; ok {
		return ClassApproval
	}
	if _, ok := readOnlyMethods[method]; ok {
		return ClassReadOnly
	}
	return ClassUnsupported
}

// RequiresApproval reports whether method needs explicit user consent.
func RequiresApproval(method string) bool {
	return Classify(method) == ClassApproval
}

// Describe returns the phrase an approval prompt uses for method, as in
// "example.org wants to <phrase>".
func Describe(method string) string {
	switch method {
	case MethodRequestAccounts, MethodRequestPermissions:
		return "connect to your wallet"
	case MethodSendTransaction:
		return "send a transaction"
	case MethodSignTransaction:
		return "sign a transaction"
	case MethodSign, MethodPersonalSign:
		return "sign a message"
	case MethodSignTypedData, MethodSignTypedDataV3, MethodSignTypedDataV4:
		return "sign typed data"
	case MethodSwitchChain:
		return "switch networks"
	case MethodAddEthereumChain:
		return "add a new network"
	case MethodWatchAsset:
		return "add a token to your wallet"
	case MethodRevokePermissions:
		return "disconnect from your wallet"
	default:
		return "perform an action"
	}
}

// Cacheable reports whether the provider may answer method from its
// cached wallet state.
func Cacheable(method string) bool {
	switch method {
	case MethodChainID, MethodNetVersion, MethodAccounts:
		return true
	}
	return false
}
