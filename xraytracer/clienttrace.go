package xraytracer

import (
	"context"
	"crypto/tls"
	"net/http/httptrace"
	"sync"

	"github.com/shogo82148/xray-dispatcher-go/xray"
)

// timings records the connection phases of a call as subsegments of the call.
// connect holds dns, dial and tls; request covers writing the request.
type timings struct {
	mu  sync.Mutex
	ctx context.Context

	connCtx context.Context
	conn    *xray.Segment
	dns     *xray.Segment
	dial    *xray.Segment
	tls     *xray.Segment
	request *xray.Segment
}

func newClientTrace(ctx context.Context) *httptrace.ClientTrace {
	t := &timings{ctx: ctx}
	return &httptrace.ClientTrace{
		GetConn:           t.getConn,
		GotConn:           t.gotConn,
		DNSStart:          t.dnsStart,
		DNSDone:           t.dnsDone,
		ConnectStart:      t.connectStart,
		ConnectDone:       t.connectDone,
		TLSHandshakeStart: t.tlsHandshakeStart,
		TLSHandshakeDone:  t.tlsHandshakeDone,
		WroteRequest:      t.wroteRequest,
	}
}

func (t *timings) getConn(hostPort string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connCtx, t.conn = xray.BeginSubsegment(t.ctx, "connect")
}

func (t *timings) gotConn(info httptrace.GotConnInfo) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeConn(false)
	_, t.request = xray.BeginSubsegment(t.ctx, "request")
}

// closeConn must be called with t.mu held.
func (t *timings) closeConn(fault bool) {
	if t.conn == nil {
		return
	}
	if fault {
		t.conn.SetFault()
	}
	t.conn.Close()
	t.connCtx, t.conn = nil, nil
}

func (t *timings) dnsStart(info httptrace.DNSStartInfo) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return
	}
	_, t.dns = xray.BeginSubsegment(t.connCtx, "dns")
}

func (t *timings) dnsDone(info httptrace.DNSDoneInfo) {
	type dnsInfo struct {
		Addresses []string `json:"addresses"`
		Coalesced bool     `json:"coalesced"`
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dns == nil {
		return
	}
	addrs := make([]string, 0, len(info.Addrs))
	for _, addr := range info.Addrs {
		addrs = append(addrs, addr.String())
	}
	t.dns.AddMetadataToNamespace("http", "dns", dnsInfo{
		Addresses: addrs,
		Coalesced: info.Coalesced,
	})
	t.dns.AddError(info.Err)
	t.dns.Close()
	t.dns = nil
	if info.Err != nil {
		t.closeConn(true)
	}
}

func (t *timings) connectStart(network, addr string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return
	}
	_, t.dial = xray.BeginSubsegment(t.connCtx, "dial")
}

func (t *timings) connectDone(network, addr string, err error) {
	type dialInfo struct {
		Network string `json:"network"`
		Address string `json:"address"`
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dial == nil {
		return
	}
	t.dial.AddMetadataToNamespace("http", "dial", dialInfo{
		Network: network,
		Address: addr,
	})
	t.dial.AddError(err)
	t.dial.Close()
	t.dial = nil
	if err != nil {
		t.closeConn(true)
	}
}

func (t *timings) tlsHandshakeStart() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return
	}
	_, t.tls = xray.BeginSubsegment(t.connCtx, "tls")
}

func (t *timings) tlsHandshakeDone(state tls.ConnectionState, err error) {
	type tlsInfo struct {
		Version            string `json:"version,omitempty"`
		DidResume          bool   `json:"did_resume,omitempty"`
		NegotiatedProtocol string `json:"negotiated_protocol,omitempty"`
		CipherSuite        string `json:"cipher_suite,omitempty"`
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.tls == nil {
		return
	}
	if !t.tls.AddError(err) {
		t.tls.AddMetadataToNamespace("http", "tls", tlsInfo{
			Version:            tls.VersionName(state.Version),
			DidResume:          state.DidResume,
			NegotiatedProtocol: state.NegotiatedProtocol,
			CipherSuite:        tls.CipherSuiteName(state.CipherSuite),
		})
	}
	t.tls.Close()
	t.tls = nil
	if err != nil {
		t.closeConn(true)
	}
}

func (t *timings) wroteRequest(info httptrace.WroteRequestInfo) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.request == nil {
		return
	}
	t.request.AddError(info.Err)
	t.request.Close()
	t.request = nil
}
