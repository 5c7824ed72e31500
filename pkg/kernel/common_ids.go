package kernel

// UserID identifies a registered user of the proxy.
type UserID string

func NewUserID(id string) UserID { return UserID(id) }
func (u UserID) String() string  { return string(u) }
func (u UserID) IsEmpty() bool   { return string(u) == "" }

// CredentialID identifies a pooled OAuth/API-key credential.
type CredentialID string

func NewCredentialID(id string) CredentialID { return CredentialID(id) }
func (c CredentialID) String() string        { return string(c) }
func (c CredentialID) IsEmpty() bool          { return string(c) == "" }

// APIKeyID identifies an opaque system API key issued to a user.
type APIKeyID string

func NewAPIKeyID(id string) APIKeyID { return APIKeyID(id) }
func (a APIKeyID) String() string    { return string(a) }
func (a APIKeyID) IsEmpty() bool     { return string(a) == "" }
