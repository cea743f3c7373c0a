package server

import (
	"errors"
	"log/slog"
	"time"

	"github.com/verdant-io/verdant/internal/node"
	"github.com/verdant-io/verdant/internal/protocol"
	"github.com/verdant-io/verdant/internal/registry"
	"github.com/verdant-io/verdant/internal/userstore"
)

// dispatch routes one decoded request. Replies go back on the session's
// connection in request order; broadcasts go through the registry. Unknown
// types are logged and ignored without closing the connection.
func (s *Server) dispatch(sess *registry.Session, req *protocol.Request, logger *slog.Logger) {
	switch req.Type {
	case "hello":
		sess.SetClientID(req.ClientID)
		s.reply(sess, protocol.NewAck(req.ID))

	case "ping":
		s.reply(sess, protocol.Pong{Type: "pong", ID: req.ID})

	case "get_topology":
		s.reply(sess, protocol.Topology{Type: "topology", ID: req.ID, Nodes: s.nodes.Nodes()})

	case "create_node":
		if req.Node == nil {
			s.reply(sess, protocol.NewError(req.ID, protocol.CodeInvalidArg, "missing node"))
			return
		}
		id := s.nodes.AddNode(*req.Node)
		ack := protocol.NewAck(req.ID)
		ack.NodeID = id
		s.reply(sess, ack)

	case "update_node":
		if err := s.nodes.UpdateNode(req.NodeID, req.Patch); err != nil {
			s.replyErr(sess, req.ID, err)
			return
		}
		s.reply(sess, protocol.NewAck(req.ID))

	case "delete_node":
		if err := s.nodes.DeleteNode(req.NodeID); err != nil {
			s.replyErr(sess, req.ID, err)
			return
		}
		s.reply(sess, protocol.NewAck(req.ID))

	case "add_component":
		if err := s.nodes.AddComponent(req.NodeID, req.Kind, req.Component); err != nil {
			s.replyErr(sess, req.ID, err)
			return
		}
		s.reply(sess, protocol.NewAck(req.ID))

	case "remove_component":
		if err := s.nodes.RemoveComponent(req.NodeID, req.Kind, req.Component); err != nil {
			s.replyErr(sess, req.ID, err)
			return
		}
		s.reply(sess, protocol.NewAck(req.ID))

	case "set_sampling":
		if err := s.nodes.SetSampling(req.NodeID, req.IntervalMs); err != nil {
			s.replyErr(sess, req.ID, err)
			return
		}
		s.reply(sess, protocol.NewAck(req.ID))

	case "subscribe":
		sess.Subscribe(req.Events, req.Nodes)
		s.reply(sess, protocol.NewAck(req.ID))

	case "unsubscribe":
		sess.Unsubscribe(req.Events, req.Nodes)
		s.reply(sess, protocol.NewAck(req.ID))

	case "command":
		err := s.nodes.ExecuteCommand(node.Command{
			NodeID: req.NodeID,
			Target: req.Target,
			Action: req.Action,
			Params: req.Params,
		})
		if err != nil {
			s.replyErr(sess, req.ID, err)
			return
		}
		s.reply(sess, protocol.NewAck(req.ID))
		// Push a fresh snapshot so control panels see the actuator change
		// without waiting for the next scheduled tick.
		if data, err := s.nodes.Snapshot(req.NodeID); err == nil {
			s.emit(protocol.SensorUpdate{
				Type:      "sensor_update",
				NodeID:    req.NodeID,
				Timestamp: time.Now().UnixMilli(),
				Data:      data,
			})
		}

	case "auth":
		if !s.users.Validate(req.Username, req.Password) {
			s.reply(sess, protocol.AuthResponse{
				Type: "auth_response", ID: req.ID,
				Success: false, Message: "invalid credentials",
			})
			return
		}
		userID, _ := s.users.UserID(req.Username)
		role, _ := s.users.UserRole(req.Username)
		sess.SetAuth(userID, role)
		s.reply(sess, protocol.AuthResponse{
			Type: "auth_response", ID: req.ID,
			Success: true, UserID: userID, Role: role,
		})

	case "register":
		userID := s.users.Register(req.Username, req.Password, req.Role)
		s.reply(sess, protocol.RegisterResponse{
			Type: "register_response", ID: req.ID,
			Success: true, UserID: userID,
		})

	case "get_users":
		s.reply(sess, protocol.UsersList{
			Type: "users_list", ID: req.ID,
			Success: true, Users: s.users.GetAll(),
		})

	case "update_user":
		if err := s.users.Update(req.UserID, req.Username, req.Role, sess.Role()); err != nil {
			s.replyErr(sess, req.ID, err)
			return
		}
		s.reply(sess, protocol.NewAck(req.ID))

	case "delete_user":
		if err := s.users.Delete(req.UserID, sess.Role()); err != nil {
			s.replyErr(sess, req.ID, err)
			return
		}
		s.reply(sess, protocol.NewAck(req.ID))

	default:
		logger.Debug("ignoring unknown message type", "type", req.Type)
	}
}

func (s *Server) reply(sess *registry.Session, v any) {
	if err := sess.Send(v); err != nil {
		s.logger.Debug("reply failed", "session_id", sess.ID, "error", err)
	}
}

func (s *Server) replyErr(sess *registry.Session, id string, err error) {
	code := protocol.CodeInternal
	switch {
	case errors.Is(err, node.ErrNodeNotFound), errors.Is(err, userstore.ErrUserNotFound):
		code = protocol.CodeNotFound
	case errors.Is(err, userstore.ErrForbidden):
		code = protocol.CodeForbidden
	}
	s.reply(sess, protocol.NewError(id, code, err.Error()))
}
