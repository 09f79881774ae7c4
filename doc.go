// Package rawhttp is a client for looking at HTTP from the wire up. It
// speaks HTTP/1.1, HTTP/2 and HTTP/3 without enforcing conformance, so
// malformed messages, out-of-order streams and oversized windows can be
// sent on purpose and whatever the server answers is reported frame by
// frame.
//
// # Quick Start
//
//	client := rawhttp.New(rawhttp.WithLogger(logger))
//	req, _ := message.NewRequest("GET", "https://example.com/")
//	resp, err := client.Do(ctx, req)
//
// Do dials a fresh connection per request, negotiating HTTP/2 or
// HTTP/1.1 by ALPN unless Request.Protocol or WithProtocol picks one.
// Connect returns the connection itself for frame-level work:
//
//	c, _ := client.Connect(ctx, target, frame.FamilyH2)
//	defer c.Close()
//	id, _ := c.CreateStream(ctx)
//	c.Send(ctx, frame.Of(h2.Headers(uint32(id), block, true, true)))
//	resp, _ := c.ReadResponse(ctx, id)
//
// # Races
//
// Race sends n copies of a request so they complete at nearly the same
// instant, either holding back the last bytes on n connections
// (RaceLastByte) or batching the final HTTP/2 frames of n streams into one
// write (RaceSinglePacket).
//
// # Detection
//
// Detect reports which protocols a target speaks, from ALPN, HTTP/2 prior
// knowledge and Alt-Svc advertisements.
package rawhttp
