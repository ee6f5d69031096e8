package websocket

import (
	"context"
)

func (that *Server) handleCreateNewGame(ctx context.Context, client *Client, _ *Message) error {
	return that.manager.CreateNewGame(ctx, client.id)
}

func (that *Server) handleRegisterAdmin(ctx context.Context, client *Client, _ *Message) error {
	return that.manager.RegisterAdminConnection(ctx, client.id)
}

func (that *Server) handleInitializeBoard(ctx context.Context, client *Client, msg *Message) error {
	payload, err := decodeGamePayload(msg)
	if err != nil {
		return err
	}

	return that.manager.InitializeBoardAndConnection(ctx, client.id, payload.GameID)
}

// handlePlaceStone rejects coordinates outside the board before they reach the session.
func (that *Server) handlePlaceStone(ctx context.Context, client *Client, msg *Message) error {
	payload, err := decodeGamePayload(msg)
	if err != nil {
		return err
	}

	col, row, err := payload.coordinates(that.boardSize)
	if err != nil {
		return err
	}

	return that.manager.PlaceStone(ctx, client.id, payload.GameID, col, row)
}

func (that *Server) handleUndoStone(ctx context.Context, client *Client, msg *Message) error {
	payload, err := decodeGamePayload(msg)
	if err != nil {
		return err
	}

	return that.manager.UndoStone(ctx, client.id, payload.GameID)
}

func (that *Server) handleNewGame(ctx context.Context, client *Client, msg *Message) error {
	payload, err := decodeGamePayload(msg)
	if err != nil {
		return err
	}

	return that.manager.NewGame(ctx, client.id, payload.GameID)
}

func (that *Server) handleParkAndExit(ctx context.Context, client *Client, _ *Message) error {
	that.logger.Info("park requested", "connID", client.id)

	return that.manager.ParkAndExit(ctx, client.id)
}
