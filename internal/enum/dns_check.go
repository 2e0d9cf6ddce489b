package enum

// DNSCheckStatus is the outcome of a single DNS record verification.
// DNSCheckError means the resolver failed or timed out; it is deliberately
// distinct from DNSCheckNoRecord since it implies "retry later", not
// "record absent".
type DNSCheckStatus string

const (
	DNSCheckOK             DNSCheckStatus = "ok"
	DNSCheckNoRecord       DNSCheckStatus = "no_record"
	DNSCheckTokenMismatch  DNSCheckStatus = "token_mismatch"
	DNSCheckWrongValue     DNSCheckStatus = "wrong_value"
	DNSCheckError          DNSCheckStatus = "dns_error"
	DNSCheckNoMX           DNSCheckStatus = "no_mx"
	DNSCheckWrongMX        DNSCheckStatus = "wrong_mx"
	DNSCheckNoSPF          DNSCheckStatus = "no_spf"
	DNSCheckMissingInclude DNSCheckStatus = "missing_include"
	DNSCheckNoDKIM         DNSCheckStatus = "no_dkim"
	DNSCheckWrongKey       DNSCheckStatus = "wrong_key"
	DNSCheckNoDMARC        DNSCheckStatus = "no_dmarc"
)

func (s DNSCheckStatus) String() string {
	return string(s)
}

// OK reports whether the check passed.
func (s DNSCheckStatus) OK() bool {
	return s == DNSCheckOK
}

// Retryable reports whether the failure is transient and worth retrying
// without any user action.
func (s DNSCheckStatus) Retryable() bool {
	return s == DNSCheckError
}
