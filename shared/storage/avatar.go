package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/pavitra93/go-tenant-rbac/shared/apperr"
)

// MaxAvatarBytes caps avatar uploads at 2 MiB
const MaxAvatarBytes = 2 << 20

var avatarTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
}

// UploadAvatar validates an image and stores it under avatars/<user>/.
// It returns the object key.
func UploadAvatar(ctx context.Context, store ObjectStore, userID uuid.UUID, r io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxAvatarBytes+1))
	if err != nil {
		return "", apperr.Internal("failed to read avatar", err)
	}
	if len(data) == 0 {
		return "", apperr.Invalid("avatar", "The avatar field is required.")
	}
	if len(data) > MaxAvatarBytes {
		return "", apperr.Invalid("avatar", "The avatar may not be greater than 2048 kilobytes.")
	}

	mtype := mimetype.Detect(data)
	ext, ok := avatarTypes[mtype.String()]
	if !ok {
		return "", apperr.Invalid("avatar", "The avatar must be a file of type: jpeg, png, gif.")
	}

	key := fmt.Sprintf("avatars/%s/%s%s", userID, uuid.NewString(), ext)
	if err := store.Put(ctx, key, bytes.NewReader(data), mtype.String()); err != nil {
		return "", apperr.Internal("failed to store avatar", err)
	}
	return key, nil
}

// IsExternal reports whether an avatar value is a full URL, as adopted from
// a social login provider, rather than an object key
func IsExternal(avatar string) bool {
	return strings.HasPrefix(avatar, "http://") || strings.HasPrefix(avatar, "https://")
}

// AvatarURL resolves a stored avatar value into a URL
func AvatarURL(store ObjectStore, avatar *string) *string {
	if avatar == nil || *avatar == "" {
		return nil
	}
	if IsExternal(*avatar) || store == nil {
		v := *avatar
		return &v
	}
	u := store.URL(*avatar)
	return &u
}
