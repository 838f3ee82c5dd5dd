package model

// Result codes returned in the API envelope.
const (
	ResultOK              = 0
	ResultBadRequest      = 1001
	ResultNotFound        = 1002
	ResultChainFailure    = 2001
	ResultStorageFailure  = 2002
	ResultContractMissing = 2003
)

// Envelope is the uniform response shape of the HTTP API.
type Envelope struct {
	ResultCode int         `json:"resultCode"`
	Message    string      `json:"message"`
	Error      string      `json:"error,omitempty"`
	Result     interface{} `json:"result"`
}
