// Package tokenreview maps Kubernetes TokenReview requests to
// authentication results and back.
package tokenreview

import (
	"errors"
	"net/http"
	"strings"

	authv1 "k8s.io/api/authentication/v1"
	authv1beta1 "k8s.io/api/authentication/v1beta1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/vyrodovalexey/kubeauth/internal/auth"
)

// Kind is the object kind of requests and responses.
const Kind = "TokenReview"

// ErrMissingToken is returned by Token when spec.token is empty.
var ErrMissingToken = errors.New("tokenreview: spec.token is empty")

// Request is the inbound TokenReview. Only apiVersion, kind and
// spec.token are read.
type Request = authv1.TokenReview

// Response is the TokenReview answer. Unlike authv1.UserInfo every user
// field is always present, and groups is never null.
type Response struct {
	metav1.TypeMeta `json:",inline"`
	Status          Status `json:"status"`
}

// Status is the status block of a Response.
type Status struct {
	Authenticated bool `json:"authenticated"`
	User          User `json:"user"`
}

// User identifies an authenticated principal.
type User struct {
	Username string   `json:"username"`
	UID      string   `json:"uid"`
	Groups   []string `json:"groups"`
}

// APIVersion returns requested if it is a TokenReview version the API
// server sends, and authentication.k8s.io/v1 otherwise.
func APIVersion(requested string) string {
	switch strings.TrimSpace(requested) {
	case authv1beta1.SchemeGroupVersion.String():
		return authv1beta1.SchemeGroupVersion.String()
	default:
		return authv1.SchemeGroupVersion.String()
	}
}

// Token returns the bearer token of req.
func Token(req *Request) (string, error) {
	if req == nil || req.Spec.Token == "" {
		return "", ErrMissingToken
	}
	return req.Spec.Token, nil
}

// Build returns the response for result. uid mirrors the username.
func Build(apiVersion string, result auth.Result) Response {
	groups := result.Groups
	if groups == nil {
		groups = []string{}
	}
	resp := Response{
		TypeMeta: metav1.TypeMeta{APIVersion: APIVersion(apiVersion), Kind: Kind},
	}
	if !result.Authenticated {
		resp.Status.User.Groups = []string{}
		return resp
	}
	resp.Status = Status{
		Authenticated: true,
		User: User{
			Username: result.Username,
			UID:      result.Username,
			Groups:   groups,
		},
	}
	return resp
}

// Deny returns the canonical deny response.
func Deny(apiVersion string) Response {
	return Build(apiVersion, auth.Deny())
}

// StatusCode is 200 for an authenticated response and 401 otherwise.
func StatusCode(resp Response) int {
	if resp.Status.Authenticated {
		return http.StatusOK
	}
	return http.StatusUnauthorized
}
