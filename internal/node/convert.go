package node

import (
	"fmt"
	"strconv"

	"chordring/internal/ident"
	"chordring/internal/ring"
	"google.golang.org/protobuf/types/known/structpb"
)

// Peer identifies a ring member as seen over the wire.
type Peer struct {
	ID   ident.ID
	Name string
	Addr string
}

// NodeView is a node's routing state as returned by the Router service.
type NodeView struct {
	Peer
	Successor   Peer
	Predecessor *Peer
	Fingers     []Peer
	FingerEpoch uint64
}

// RouteResult is the answer to a FindSuccessor, Lookup or Locate call.
type RouteResult struct {
	Owner Peer
	Key   ident.ID
	Hops  int
}

// HealthStatus reports whether a host's ring is consistent.
type HealthStatus struct {
	NodeID  string
	Status  string
	Members int
	Epoch   uint64
}

// IDs travel as decimal strings since structpb numbers are float64.
func peerToValue(p Peer) map[string]any {
	return map[string]any{
		"id":   strconv.FormatUint(uint64(p.ID), 10),
		"name": p.Name,
		"addr": p.Addr,
	}
}

func peerFromStruct(s *structpb.Struct) (Peer, error) {
	if s == nil {
		return Peer{}, fmt.Errorf("missing peer")
	}
	id, err := idField(s, "id")
	if err != nil {
		return Peer{}, err
	}
	return Peer{
		ID:   id,
		Name: s.GetFields()["name"].GetStringValue(),
		Addr: s.GetFields()["addr"].GetStringValue(),
	}, nil
}

func idField(s *structpb.Struct, key string) (ident.ID, error) {
	raw := s.GetFields()[key].GetStringValue()
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return ident.ID(id), nil
}

func peerFromInfo(info ring.NodeInfo) Peer {
	return Peer{ID: info.ID, Name: info.Member.Name, Addr: info.Member.Addr}
}

func routeToProto(res RouteResult) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"owner": peerToValue(res.Owner),
		"key":   strconv.FormatUint(uint64(res.Key), 10),
		"hops":  res.Hops,
	})
}

// RouteFromProto decodes a routing answer.
func RouteFromProto(s *structpb.Struct) (RouteResult, error) {
	owner, err := peerFromStruct(s.GetFields()["owner"].GetStructValue())
	if err != nil {
		return RouteResult{}, err
	}
	key, err := idField(s, "key")
	if err != nil {
		return RouteResult{}, err
	}
	return RouteResult{
		Owner: owner,
		Key:   key,
		Hops:  int(s.GetFields()["hops"].GetNumberValue()),
	}, nil
}

func nodeViewToProto(v NodeView) (*structpb.Struct, error) {
	fingers := make([]any, 0, len(v.Fingers))
	for _, f := range v.Fingers {
		fingers = append(fingers, peerToValue(f))
	}
	fields := map[string]any{
		"node":         peerToValue(v.Peer),
		"successor":    peerToValue(v.Successor),
		"fingers":      fingers,
		"finger_epoch": strconv.FormatUint(v.FingerEpoch, 10),
	}
	if v.Predecessor != nil {
		fields["predecessor"] = peerToValue(*v.Predecessor)
	}
	return structpb.NewStruct(fields)
}

// NodeViewFromProto decodes a GetNode or Join answer.
func NodeViewFromProto(s *structpb.Struct) (NodeView, error) {
	var v NodeView
	fields := s.GetFields()

	self, err := peerFromStruct(fields["node"].GetStructValue())
	if err != nil {
		return NodeView{}, err
	}
	v.Peer = self

	v.Successor, err = peerFromStruct(fields["successor"].GetStructValue())
	if err != nil {
		return NodeView{}, fmt.Errorf("successor: %w", err)
	}

	if pred, ok := fields["predecessor"]; ok {
		p, err := peerFromStruct(pred.GetStructValue())
		if err != nil {
			return NodeView{}, fmt.Errorf("predecessor: %w", err)
		}
		v.Predecessor = &p
	}

	for _, f := range fields["fingers"].GetListValue().GetValues() {
		p, err := peerFromStruct(f.GetStructValue())
		if err != nil {
			return NodeView{}, fmt.Errorf("finger: %w", err)
		}
		v.Fingers = append(v.Fingers, p)
	}

	epoch, err := strconv.ParseUint(fields["finger_epoch"].GetStringValue(), 10, 64)
	if err != nil {
		return NodeView{}, fmt.Errorf("invalid finger_epoch: %w", err)
	}
	v.FingerEpoch = epoch
	return v, nil
}

func healthToProto(h HealthStatus) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"node_id": h.NodeID,
		"status":  h.Status,
		"members": h.Members,
		"epoch":   strconv.FormatUint(h.Epoch, 10),
	})
}

// HealthFromProto decodes a Health answer.
func HealthFromProto(s *structpb.Struct) (HealthStatus, error) {
	fields := s.GetFields()
	epoch, err := strconv.ParseUint(fields["epoch"].GetStringValue(), 10, 64)
	if err != nil {
		return HealthStatus{}, fmt.Errorf("invalid epoch: %w", err)
	}
	return HealthStatus{
		NodeID:  fields["node_id"].GetStringValue(),
		Status:  fields["status"].GetStringValue(),
		Members: int(fields["members"].GetNumberValue()),
		Epoch:   epoch,
	}, nil
}
