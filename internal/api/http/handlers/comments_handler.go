package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk-service/internal/api/dto"
	"github.com/spec-kit/helpdesk-service/internal/service"
)

// CommentsHandler exposes ticket threads.
type CommentsHandler struct {
	comments *service.CommentService
	profiles *service.ProfileService
}

// NewCommentsHandler constructs handler.
func NewCommentsHandler(commentService *service.CommentService, profiles *service.ProfileService) *CommentsHandler {
	return &CommentsHandler{comments: commentService, profiles: profiles}
}

// ListComments GET /api/tickets/:id/comments.
func (h *CommentsHandler) ListComments(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	comments, err := h.comments.ListComments(c.UserContext(), user, c.Params("id"))
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(comments))
	for _, comment := range comments {
		ids = append(ids, comment.AuthorID)
	}
	profiles, err := h.profiles.Summaries(c.UserContext(), ids...)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewCommentResponses(comments, profiles)})
}

// AddComment POST /api/tickets/:id/comments.
func (h *CommentsHandler) AddComment(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	var req dto.CreateCommentRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	comment, err := h.comments.AddComment(c.UserContext(), user, c.Params("id"), req.Message, req.Internal)
	if err != nil {
		return err
	}
	profiles := dto.Profiles{user.ID: user.Summary()}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.NewCommentResponse(comment, profiles)})
}
