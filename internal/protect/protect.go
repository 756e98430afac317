// Package protect защищает скачивание вложений по ссылкам от обращений к
// внутренним адресам (SSRF).
package protect

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var privateIPBlocks []*net.IPNet

func init() {
	for _, cidr := range []string{
		"0.0.0.0/8",      // "этот" хост
		"127.0.0.0/8",    // localhost
		"10.0.0.0/8",     // private network
		"100.64.0.0/10",  // carrier-grade NAT
		"172.16.0.0/12",  // private network
		"192.168.0.0/16", // private network
		"169.254.0.0/16", // link-local
		"::/128",         // IPv6 unspecified
		"::1/128",        // IPv6 loopback
		"fc00::/7",       // IPv6 unique local
		"fe80::/10",      // IPv6 link-local
	} {
		_, block, _ := net.ParseCIDR(cidr)
		privateIPBlocks = append(privateIPBlocks, block)
	}
}

func IsPrivateIP(ip net.IP) bool {
	for _, block := range privateIPBlocks {
		if block.Contains(ip) {
			return true
		}
	}
	return false
}

var ErrSSRF = errors.New("ssrf protection")

// ReplaceHostToIP резолвит хост, проверяет ip, возвращает адрес в котором host
// заменен на ip. Если хоть один ip локальный, возвращает ошибку ErrSSRF.
func ReplaceHostToIP(ctx context.Context, addr string) (string, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "", err
	}

	// Резолвим DNS
	ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return "", err
	}
	if len(ips) == 0 {
		return "", errors.New("no IP addresses found")
	}

	for _, ip := range ips {
		if IsPrivateIP(ip.IP) {
			return "", fmt.Errorf("%w: private IP %s is not allowed", ErrSSRF, ip.IP)
		}
	}

	return net.JoinHostPort(ips[0].IP.String(), port), nil
}

type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Dial оборачивает dial проверкой адреса через ReplaceHostToIP. Соединение
// устанавливается с уже проверенным ip, поэтому повторный резолв не может
// подменить адрес.
func Dial(dial DialFunc) DialFunc {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		addr, err := ReplaceHostToIP(ctx, addr)
		if err != nil {
			return nil, err
		}
		return dial(ctx, network, addr)
	}
}
