// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package config

import (
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// ParseTarget turns a target URL into a link configuration. Supported
// forms:
//
//	tcp://host:port
//	rtu:///dev/ttyUSB0?baud=19200&data_bits=8&parity=N&stop_bits=1
//	rtu-over-tcp://host:port
//	local:///path/to/datastore.bin (path optional)
func ParseTarget(raw string) (LinkConfig, error) {
	var link LinkConfig

	u, err := url.Parse(raw)
	if err != nil {
		return link, fmt.Errorf("invalid target %q: %w", raw, err)
	}

	switch u.Scheme {
	case "tcp":
		if u.Host == "" {
			return link, fmt.Errorf("target %q: missing host:port", raw)
		}
		link.Type = "tcp"
		link.Tcp.Address = u.Host
	case "rtuovertcp", "rtu-over-tcp":
		if u.Host == "" {
			return link, fmt.Errorf("target %q: missing host:port", raw)
		}
		link.Type = "rtu-over-tcp"
		link.Tcp.Address = u.Host
	case "rtu":
		if u.Path == "" {
			return link, fmt.Errorf("target %q: missing device path", raw)
		}
		link.Type = "rtu"
		link.Serial.Device = u.Path
		q := u.Query()
		if s := q.Get("baud"); s != "" {
			if link.Serial.BaudRate, err = strconv.Atoi(s); err != nil {
				return link, fmt.Errorf("target %q: invalid baud: %w", raw, err)
			}
		}
		if s := q.Get("data_bits"); s != "" {
			if link.Serial.DataBits, err = strconv.Atoi(s); err != nil {
				return link, fmt.Errorf("target %q: invalid data_bits: %w", raw, err)
			}
		}
		if s := q.Get("stop_bits"); s != "" {
			if link.Serial.StopBits, err = strconv.Atoi(s); err != nil {
				return link, fmt.Errorf("target %q: invalid stop_bits: %w", raw, err)
			}
		}
		if s := q.Get("parity"); s != "" {
			link.Serial.Parity = s
		}
		if s := q.Get("timeout"); s != "" {
			if link.Serial.Timeout, err = time.ParseDuration(s); err != nil {
				return link, fmt.Errorf("target %q: invalid timeout: %w", raw, err)
			}
		}
	case "local":
		link.Type = "local"
		link.Local.Path = u.Path
	default:
		return link, fmt.Errorf("target %q: unsupported scheme %q", raw, u.Scheme)
	}

	fixupSerial(&link.Serial)
	return link, nil
}
