package packet

// IsValid is the structural sanity check run before any other processing.
// Packets failing it are dropped unconditionally.
func IsValid(pkt []byte) bool {
	return Validate(pkt) == ""
}

// Validate returns an empty string for a well-formed packet, or a short
// reason suitable for logging and drop counters.
func Validate(pkt []byte) string {
	size := len(pkt)
	switch {
	case size < HeaderSize:
		return "short"
	case size > MaxPacketSize:
		return "oversize"
	}
	if pkt[offVersion] != Version {
		return "version"
	}
	switch Type(pkt[offType]) {
	case TypeData, TypeAck, TypeDataReq, TypeMgmt:
	default:
		return "type"
	}
	if pkt[offMaxHops] == 0 {
		return "max_hops"
	}
	if pkt[offSrcBits] > MaxAddrBits || pkt[offDstBits] > MaxAddrBits {
		return "addr_bits"
	}
	if !SigAlgo(pkt[offSigAlgo]).Known() {
		return "sig_algo"
	}
	transport := pkt[offTransport]
	if transport&^knownTransport != 0 {
		return "transport"
	}
	if AfterHeader(transport) > size {
		return "transport_fields"
	}
	return ""
}
