// Package identity manages team members through the identity provider's admin REST API.
package identity

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/mike-walpole/d2g/pkg/httpclient"
	"github.com/mike-walpole/d2g/pkg/models"
)

const (
	DefaultTemporaryPassword = "TempPass123!"

	StatusForceChangePassword = "FORCE_CHANGE_PASSWORD"
	StatusConfirmed           = "CONFIRMED"

	updatePasswordAction = "UPDATE_PASSWORD"
)

type Config struct {
	BaseURL      string
	Realm        string
	ClientID     string
	ClientSecret string
	AdminGroup   string
}

func (c Config) TokenURL() string {
	return fmt.Sprintf("%s/realms/%s/protocol/openid-connect/token", strings.TrimRight(c.BaseURL, "/"), c.Realm)
}

type userRepresentation struct {
	ID               string              `json:"id,omitempty"`
	Username         string              `json:"username"`
	Email            string              `json:"email"`
	Enabled          bool                `json:"enabled"`
	EmailVerified    bool                `json:"emailVerified"`
	CreatedTimestamp int64               `json:"createdTimestamp,omitempty"`
	RequiredActions  []string            `json:"requiredActions,omitempty"`
	Credentials      []credentialPayload `json:"credentials,omitempty"`
}

type credentialPayload struct {
	Type      string `json:"type"`
	Value     string `json:"value"`
	Temporary bool   `json:"temporary"`
}

type groupRepresentation struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Path string `json:"path"`
}

// Client talks to /admin/realms/{realm} with a client-credentials token
type Client struct {
	http   *httpclient.Client
	cfg    Config
	logger ectologger.Logger
}

// NewClient builds a client whose requests carry a service-account token
func NewClient(ctx context.Context, cfg Config, logger ectologger.Logger) *Client {
	oauthCfg := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL(),
	}

	httpClient := oauthCfg.Client(ctx)
	httpClient.Timeout = httpclient.DefaultTimeout

	return NewClientWithHTTP(httpclient.NewClientWithHTTP(httpClient, logger), cfg, logger)
}

func NewClientWithHTTP(httpClient *httpclient.Client, cfg Config, logger ectologger.Logger) *Client {
	if cfg.AdminGroup == "" {
		cfg.AdminGroup = models.AdminGroup
	}
	return &Client{http: httpClient, cfg: cfg, logger: logger}
}

func (c *Client) adminURL(parts ...string) string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + path.Join(append([]string{"/admin/realms", c.cfg.Realm}, parts...)...)
}

func (c *Client) do(ctx context.Context, method string, target string, body any, out any) (*httpclient.Response, error) {
	resp, err := c.http.DoJSON(ctx, method, target, nil, body)
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return resp, upstreamError(method, target, resp)
	}
	if out != nil && len(resp.Body) > 0 {
		if err := resp.Decode(out); err != nil {
			return resp, err
		}
	}
	return resp, nil
}

func upstreamError(method string, target string, resp *httpclient.Response) error {
	switch resp.StatusCode {
	case http.StatusNotFound:
		return httperror.NewHTTPErrorf(http.StatusNotFound, "identity provider resource not found")
	case http.StatusConflict:
		return httperror.NewHTTPErrorf(http.StatusConflict, "user already exists")
	}
	return fmt.Errorf("identity provider %s %s returned %d: %s", method, target, resp.StatusCode, string(resp.Body))
}

// List returns every user with their group names
func (c *Client) List(ctx context.Context) ([]models.TeamMember, error) {
	var users []userRepresentation
	if _, err := c.do(ctx, http.MethodGet, c.adminURL("users")+"?max=1000", nil, &users); err != nil {
		return nil, err
	}

	members := make([]models.TeamMember, 0, len(users))
	for _, user := range users {
		var groups []groupRepresentation
		if _, err := c.do(ctx, http.MethodGet, c.adminURL("users", user.ID, "groups"), nil, &groups); err != nil {
			c.logger.WithContext(ctx).WithError(err).WithField("username", user.Username).Warn("failed to load user groups")
			groups = nil
		}
		members = append(members, toTeamMember(user, groups))
	}
	return members, nil
}

func toTeamMember(user userRepresentation, groups []groupRepresentation) models.TeamMember {
	created := time.UnixMilli(user.CreatedTimestamp).UTC()
	status := StatusConfirmed
	if ectolinq.Contains(user.RequiredActions, updatePasswordAction) {
		status = StatusForceChangePassword
	}

	return models.TeamMember{
		ID:       user.ID,
		Username: user.Username,
		Email:    user.Email,
		Status:   status,
		Enabled:  user.Enabled,
		Groups: ectolinq.Map(groups, func(g groupRepresentation) string {
			return g.Name
		}),
		Created:      created,
		LastModified: created,
	}
}

// Create adds an enabled user whose password must be changed on first login.
// Admins are also added to the admin group.
func (c *Client) Create(ctx context.Context, member models.NewTeamMember) (models.TeamMember, error) {
	password := member.TemporaryPassword
	if password == "" {
		password = DefaultTemporaryPassword
	}

	user := userRepresentation{
		Username:        member.Email,
		Email:           member.Email,
		Enabled:         true,
		EmailVerified:   true,
		RequiredActions: []string{updatePasswordAction},
		Credentials:     []credentialPayload{{Type: "password", Value: password, Temporary: true}},
	}

	resp, err := c.do(ctx, http.MethodPost, c.adminURL("users"), user, nil)
	if err != nil {
		return models.TeamMember{}, err
	}

	user.ID = path.Base(resp.Headers["Location"])
	if user.ID == "" || user.ID == "." || user.ID == "/" {
		found, err := c.findByUsername(ctx, member.Email)
		if err != nil {
			return models.TeamMember{}, err
		}
		user.ID = found.ID
	}
	user.CreatedTimestamp = time.Now().UnixMilli()

	groups := []groupRepresentation{}
	if member.IsAdmin {
		group, err := c.addToAdminGroup(ctx, user.ID)
		if err != nil {
			return models.TeamMember{}, err
		}
		groups = append(groups, group)
	}

	c.logger.WithContext(ctx).WithFields(map[string]any{
		"username": member.Email,
		"is_admin": member.IsAdmin,
	}).Info("team member created")

	return toTeamMember(user, groups), nil
}

func (c *Client) addToAdminGroup(ctx context.Context, userID string) (groupRepresentation, error) {
	var groups []groupRepresentation
	query := url.Values{"search": {c.cfg.AdminGroup}, "exact": {"true"}}
	if _, err := c.do(ctx, http.MethodGet, c.adminURL("groups")+"?"+query.Encode(), nil, &groups); err != nil {
		return groupRepresentation{}, err
	}

	group := ectolinq.Find(groups, func(g groupRepresentation) bool {
		return g.Name == c.cfg.AdminGroup
	})
	if ectolinq.IsEmpty(group) {
		return groupRepresentation{}, fmt.Errorf("group %s does not exist in realm %s", c.cfg.AdminGroup, c.cfg.Realm)
	}

	if _, err := c.do(ctx, http.MethodPut, c.adminURL("users", userID, "groups", group.ID), nil, nil); err != nil {
		return groupRepresentation{}, err
	}
	return group, nil
}

func (c *Client) findByUsername(ctx context.Context, username string) (userRepresentation, error) {
	var users []userRepresentation
	query := url.Values{"username": {username}, "exact": {"true"}}
	if _, err := c.do(ctx, http.MethodGet, c.adminURL("users")+"?"+query.Encode(), nil, &users); err != nil {
		return userRepresentation{}, err
	}

	user := ectolinq.Find(users, func(u userRepresentation) bool {
		return strings.EqualFold(u.Username, username)
	})
	if user.ID == "" {
		return userRepresentation{}, httperror.NewHTTPErrorf(http.StatusNotFound, "user not found: %s", username)
	}
	return user, nil
}

func (c *Client) Delete(ctx context.Context, username string) error {
	user, err := c.findByUsername(ctx, username)
	if err != nil {
		return err
	}

	if _, err := c.do(ctx, http.MethodDelete, c.adminURL("users", user.ID), nil, nil); err != nil {
		return err
	}

	c.logger.WithContext(ctx).WithField("username", username).Info("team member deleted")
	return nil
}

func (c *Client) Count(ctx context.Context) (int, error) {
	resp, err := c.do(ctx, http.MethodGet, c.adminURL("users", "count"), nil, nil)
	if err != nil {
		return 0, err
	}

	count, err := strconv.Atoi(strings.TrimSpace(string(resp.Body)))
	if err != nil {
		return 0, fmt.Errorf("invalid user count %q: %w", string(resp.Body), err)
	}
	return count, nil
}
