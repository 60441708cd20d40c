// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2018-2020 The zocsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"bytes"
	"encoding/binary"
	"io"
	"net"
)

var (
	// rfc1918Nets specifies the IPv4 private address blocks as defined by
	// by RFC1918 (10.0.0.0/8, 172.16.0.0/12, and 192.168.0.0/16).
	rfc1918Nets = []net.IPNet{
		ipNet("10.0.0.0", 8, 32),
		ipNet("172.16.0.0", 12, 32),
		ipNet("192.168.0.0", 16, 32),
	}

	// rfc4193Net specifies the IPv6 unique local address block as defined
	// by RFC4193 (FC00::/7).
	rfc4193Net = ipNet("FC00::", 7, 128)

	// onionCatNet defines the IPv6 address block used to support Tor.
	// Traditionally, an onion address is encoded into this block to ride
	// the IPv6 address plumbing (fd87:d87e:eb43::/48).
	onionCatNet = ipNet("fd87:d87e:eb43::", 48, 128)

	// zero4 is the zero IPv4 address.
	zero4Net = ipNet("0.0.0.0", 8, 32)
)

// ipNet returns a net.IPNet struct given the passed IP address string, number
// of one bits to include at the start of the mask, and the total number of bits
// for the mask.
func ipNet(ip string, ones, bits int) net.IPNet {
	return net.IPNet{IP: net.ParseIP(ip), Mask: net.CIDRMask(ones, bits)}
}

// maxNetAddressPayload returns the max payload size for a zoc NetAddress
// based on the protocol version.
func maxNetAddressPayload(pver uint32) uint32 {
	// Services 8 bytes + ip 16 bytes + port 2 bytes.
	return 26
}

// NetAddress defines information about a peer on the network including its
// services, ip address, and port.  The address is always represented as a
// 16-byte field; IPv4 addresses are stored IPv4-in-IPv6 mapped and onion
// addresses use the onioncat encoding.
type NetAddress struct {
	// Bitfield which identifies the services supported by the address.
	Services ServiceFlag

	// IP address of the peer.
	IP net.IP

	// Port the peer is using.  This is encoded in big endian on the wire
	// which differs from most everything else.
	Port uint16
}

// IsIPv4 returns whether or not the address is an IPv4 address.
func (na *NetAddress) IsIPv4() bool {
	return na.IP.To4() != nil
}

// IsOnion returns whether or not the address is an onioncat-encoded Tor
// address.
func (na *NetAddress) IsOnion() bool {
	return onionCatNet.Contains(na.IP)
}

// IsLocal returns whether or not the address is a local address (loopback or
// an unspecified zero address).
func (na *NetAddress) IsLocal() bool {
	return na.IP.IsLoopback() || zero4Net.Contains(na.IP) ||
		na.IP.Equal(net.IPv6zero)
}

// IsRFC1918 returns whether or not the address is part of one of the private
// IPv4 blocks defined by RFC1918.
func (na *NetAddress) IsRFC1918() bool {
	for _, rfc := range rfc1918Nets {
		if rfc.Contains(na.IP) {
			return true
		}
	}
	return false
}

// IsRoutable returns whether or not the address is routable on the public
// internet.  Onion addresses are considered routable.
func (na *NetAddress) IsRoutable() bool {
	if na.IP == nil {
		return false
	}
	if na.IsOnion() {
		return true
	}
	return !(na.IsLocal() || na.IsRFC1918() || rfc4193Net.Contains(na.IP) ||
		na.IP.IsLinkLocalUnicast() || na.IP.IsLinkLocalMulticast() ||
		na.IP.IsUnspecified())
}

// Equal returns whether the passed address refers to the same endpoint,
// comparing both the IP and the port.
func (na *NetAddress) Equal(other *NetAddress) bool {
	return na.IP.Equal(other.IP) && na.Port == other.Port
}

// EqualIP returns whether the passed address shares the same IP, ignoring the
// port.  This is the comparison used when the chain parameters forbid
// multiple masternodes per host.
func (na *NetAddress) EqualIP(other *NetAddress) bool {
	return na.IP.Equal(other.IP)
}

// Key returns a string that can be used to uniquely represent the address and
// includes the port.
func (na *NetAddress) Key() string {
	return net.JoinHostPort(na.ipString(), itoa(na.Port))
}

// SquashedKey returns the pacing key for the address: the same as Key with the
// port zeroed when allowMultiplePorts is false, so every peer on a host shares
// a single pacing slot.
func (na *NetAddress) SquashedKey(allowMultiplePorts bool) string {
	if allowMultiplePorts {
		return na.Key()
	}
	return net.JoinHostPort(na.ipString(), "0")
}

// BaseKey returns a key for the IP alone, with no port component.  It is used
// when grouping masternodes that share a host.
func (na *NetAddress) BaseKey() string {
	return na.ipString()
}

// String returns the address in host:port form.
func (na *NetAddress) String() string {
	return na.Key()
}

// ipString returns a string for the ip of the address.  Onion addresses are
// rendered in their base32 .onion form by the caller if desired; here they
// stay in IPv6 form to keep keys canonical.
func (na *NetAddress) ipString() string {
	if ipv4 := na.IP.To4(); ipv4 != nil {
		return ipv4.String()
	}
	return na.IP.String()
}

// itoa converts the passed port to its decimal string form without pulling in
// strconv for a two-byte value.
func itoa(port uint16) string {
	var buf [5]byte
	i := len(buf)
	for {
		i--
		buf[i] = byte('0' + port%10)
		port /= 10
		if port == 0 {
			break
		}
	}
	return string(buf[i:])
}

// NewNetAddressIPPort returns a new NetAddress using the provided IP, port,
// and supported services.
func NewNetAddressIPPort(ip net.IP, port uint16, services ServiceFlag) *NetAddress {
	return &NetAddress{
		Services: services,
		IP:       ip,
		Port:     port,
	}
}

// readNetAddress reads an encoded NetAddress from r depending on the protocol
// version.
func readNetAddress(r io.Reader, pver uint32, na *NetAddress) error {
	var ip [16]byte
	err := readElements(r, &na.Services, &ip)
	if err != nil {
		return err
	}

	// Sigh.  Bitcoin protocol mixes little and big endian.
	port, err := binarySerializer.Uint16(r, bigEndian)
	if err != nil {
		return err
	}

	*na = NetAddress{
		Services: na.Services,
		IP:       net.IP(ip[:]),
		Port:     port,
	}
	return nil
}

// writeNetAddress serializes a NetAddress to w depending on the protocol
// version.
func writeNetAddress(w io.Writer, pver uint32, na *NetAddress) error {
	// Ensure to always write 16 bytes even if the ip is nil.
	var ip [16]byte
	if na.IP != nil {
		copy(ip[:], na.IP.To16())
	}
	err := writeElements(w, na.Services, ip)
	if err != nil {
		return err
	}

	// Sigh.  Bitcoin protocol mixes little and big endian.
	return binary.Write(w, bigEndian, na.Port)
}

// serializeNetAddress returns the serialization of the address.  It is used
// when the address takes part in a signature message.
func serializeNetAddress(na *NetAddress) []byte {
	var buf bytes.Buffer
	_ = writeNetAddress(&buf, ProtocolVersion, na)
	return buf.Bytes()
}
