package battle

import (
	"context"

	"real-pet/battle/internal/net/proto"
	loggingnetplay "real-pet/battle/logging/netplay"
)

// protocolErrorBurst is how many protocol errors are logged back to back
// before the limiter starts suppressing them.
const protocolErrorBurst = 3

// handlePackets drains every receiver without blocking, marks players whose
// link is gone as disconnected, then applies the packets in arrival order.
func (s *Scene) handlePackets(ctx context.Context) {
	var packets []proto.Packet
	live := s.receivers[:0]

	for _, peer := range s.receivers {
		for {
			packet, ok := peer.Receiver.TryRecv()
			if !ok {
				break
			}
			packets = append(packets, packet)
		}

		if peer.Receiver.Disconnected() {
			if peer.Index >= 0 && s.sync.Disconnect(peer.Index) {
				loggingnetplay.PlayerDisconnected(ctx, s.publisher, int64(s.simulation.Time), peer.Index)
			}
			continue
		}
		live = append(live, peer)
	}
	for i := len(live); i < len(s.receivers); i++ {
		s.receivers[i] = PeerReceiver{}
	}
	s.receivers = live

	for _, packet := range packets {
		s.handlePacket(ctx, packet)
	}
}

func (s *Scene) handlePacket(ctx context.Context, packet proto.Packet) {
	switch packet.Kind {
	case proto.KindInput:
		receipt, ok := s.sync.ReceiveRemote(packet, s.simulation)
		if !ok {
			s.protocolError(ctx, packet)
			return
		}
		if receipt.Throttled {
			s.metrics.Add(metricKeyThrottles, 1)
			loggingnetplay.Throttle(ctx, s.publisher, int64(s.simulation.Time), packet.Index, loggingnetplay.ThrottlePayload{
				RemoteDepth: receipt.RemoteDepth,
				LocalDepth:  receipt.LocalDepth,
				Cooldown:    s.sync.Cooldown(),
			})
		}
		s.resimulate(ctx, receipt.Target, packet.Index)
	case proto.KindAllDisconnected:
		s.sync.DisconnectAll()
	case proto.KindHeartbeat:
	default:
		s.protocolError(ctx, packet)
	}
}

// protocolError logs an unexpected packet. Logging is rate limited; the
// packet is otherwise ignored.
func (s *Scene) protocolError(ctx context.Context, packet proto.Packet) {
	s.metrics.Add(metricKeyProtocolErrors, 1)
	if !s.protocolLimiter.Allow() {
		s.suppressed++
		return
	}
	suppressed := s.suppressed
	s.suppressed = 0
	s.logger.Printf("expecting Input, Heartbeat or AllDisconnected during battle, received %s from %d", packet.Kind, packet.Index)
	loggingnetplay.ProtocolError(ctx, s.publisher, int64(s.simulation.Time), packet.Index, loggingnetplay.ProtocolErrorPayload{
		Kind:       packet.Kind.String(),
		Suppressed: suppressed,
	})
}
