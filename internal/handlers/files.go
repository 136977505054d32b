package handlers

import (
	"context"

	"github.com/google/uuid"

	"github.com/edumatrix/realtime-gateway/internal/bus"
	"github.com/edumatrix/realtime-gateway/internal/gateway"
	"github.com/edumatrix/realtime-gateway/pkg/redisx"
)

// The file surface handles metadata and access control only; bytes live in
// external storage and move through workers listening on file-events.
const familyFile = "file"

func userFilesList(userID string) string { return "user_files:" + userID }

func (d *Deps) registerFiles(r *gateway.Router) {
	r.Handle("file:upload", d.fileUpload)
	r.Handle("file:share", d.fileShare)
	r.Handle("file:download", d.fileDownload)
	r.Handle("file:delete", d.fileDelete)
	r.Handle("file:get_info", d.fileGetInfo)
	r.Handle("file:get_user_files", d.fileGetUserFiles)
	r.Handle("file:update_permissions", d.fileUpdatePermissions)
	r.Handle("file:create_link", d.fileCreateLink)
	r.Handle("file:scan", d.fileScan)
}

// loadFile fetches a file record and checks the requester may see it.
func (d *Deps) loadFile(ctx context.Context, s *gateway.Session, fileID string, ownerOnly bool) (map[string]interface{}, error) {
	var file map[string]interface{}
	found, err := d.Store.Get(ctx, familyFile, fileID, &file)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, gateway.NotFound("file")
	}
	owner := str(file, "ownerId") == s.Identity.ID
	if ownerOnly {
		if !owner && !canModerate(s.Identity) {
			return nil, gateway.Forbidden("only the owner can do that")
		}
		return file, nil
	}
	if owner {
		return file, nil
	}
	for _, shared := range toStringList(file["sharedWith"]) {
		if shared == s.Identity.ID {
			return file, nil
		}
	}
	return nil, gateway.Forbidden("file is not shared with you")
}

func (d *Deps) fileUpload(ctx context.Context, s *gateway.Session, payload map[string]interface{}) error {
	if !d.Features["fileSharing"] {
		return gateway.Forbidden("file sharing is disabled")
	}
	name, err := requireStr(payload, "fileName")
	if err != nil {
		return err
	}
	size := int64(number(payload, "size", 0))
	if size <= 0 {
		return gateway.Validation("missing or invalid file size")
	}
	if size > d.Limits.MaxFileSize {
		return gateway.Validation("file exceeds the %d byte limit", d.Limits.MaxFileSize)
	}
	if err := d.throttle(ctx, s, ""); err != nil {
		return err
	}

	file := map[string]interface{}{
		"id":         d.newID("file", s.Identity.ID),
		"ownerId":    s.Identity.ID,
		"fileName":   name,
		"size":       size,
		"mimeType":   strOr(payload, "mimeType", "application/octet-stream"),
		"checksum":   str(payload, "checksum"),
		"visibility": strOr(payload, "visibility", "private"),
		"sharedWith": []string{},
		"scanStatus": "pending",
		"createdAt":  d.now().UTC(),
	}
	id := file["id"].(string)
	if err := d.Store.Put(ctx, familyFile, id, file, redisx.TTLFileMeta); err != nil {
		return err
	}
	if err := d.Store.PushList(ctx, userFilesList(s.Identity.ID), id, notificationsCap, redisx.TTLFileMeta); err != nil {
		return err
	}

	s.Emit("file:uploaded", file)
	d.publish(bus.TopicFileEvents, "file.uploaded", file)
	return nil
}

func (d *Deps) fileShare(ctx context.Context, s *gateway.Session, payload map[string]interface{}) error {
	fileID, err := requireStr(payload, "fileId")
	if err != nil {
		return err
	}
	recipients := strSlice(payload, "userIds")
	if len(recipients) == 0 {
		return gateway.Validation("missing required field %q", "userIds")
	}
	if _, err := d.loadFile(ctx, s, fileID, true); err != nil {
		return err
	}

	updated, _, err := d.Store.Update(ctx, familyFile, fileID, func(it map[string]interface{}) {
		shared := toStringList(it["sharedWith"])
		for _, r := range recipients {
			if indexOfString(shared, r) < 0 {
				shared = append(shared, r)
			}
		}
		it["sharedWith"] = shared
	})
	if err != nil {
		return err
	}

	for _, recipient := range recipients {
		d.sendToUser(ctx, recipient, "file:shared", map[string]interface{}{
			"fileId":   fileID,
			"fileName": updated["fileName"],
			"sharedBy": s.Identity.ID,
		})
	}
	s.Emit("file:share_success", map[string]interface{}{
		"fileId":     fileID,
		"sharedWith": updated["sharedWith"],
	})
	d.publish(bus.TopicFileEvents, "file.shared", map[string]interface{}{
		"fileId": fileID, "userIds": recipients, "sharedBy": s.Identity.ID,
	})
	return nil
}

func (d *Deps) fileDownload(ctx context.Context, s *gateway.Session, payload map[string]interface{}) error {
	fileID, err := requireStr(payload, "fileId")
	if err != nil {
		return err
	}
	file, err := d.loadFile(ctx, s, fileID, false)
	if err != nil {
		return err
	}
	downloads, err := d.Store.IncrStat(ctx, familyFile, fileID, "downloads", 1)
	if err != nil {
		return err
	}
	s.Emit("file:download_ready", map[string]interface{}{
		"fileId":    fileID,
		"fileName":  file["fileName"],
		"mimeType":  file["mimeType"],
		"size":      file["size"],
		"checksum":  file["checksum"],
		"downloads": downloads,
	})
	d.publish(bus.TopicFileEvents, "file.downloaded", map[string]interface{}{
		"fileId": fileID, "userId": s.Identity.ID,
	})
	return nil
}

func (d *Deps) fileDelete(ctx context.Context, s *gateway.Session, payload map[string]interface{}) error {
	fileID, err := requireStr(payload, "fileId")
	if err != nil {
		return err
	}
	file, err := d.loadFile(ctx, s, fileID, true)
	if err != nil {
		return err
	}
	if _, err := d.Store.Delete(ctx, familyFile, fileID); err != nil {
		return err
	}
	if err := d.Store.RemoveFromList(ctx, userFilesList(str(file, "ownerId")), fileID); err != nil {
		return err
	}
	s.Emit("file:deleted", map[string]interface{}{"fileId": fileID})
	d.publish(bus.TopicFileEvents, "file.deleted", map[string]interface{}{"fileId": fileID})
	return nil
}

func (d *Deps) fileGetInfo(ctx context.Context, s *gateway.Session, payload map[string]interface{}) error {
	fileID, err := requireStr(payload, "fileId")
	if err != nil {
		return err
	}
	file, err := d.loadFile(ctx, s, fileID, false)
	if err != nil {
		return err
	}
	s.Emit("file:info", file)
	return nil
}

func (d *Deps) fileGetUserFiles(ctx context.Context, s *gateway.Session, _ map[string]interface{}) error {
	ids, err := d.Store.ListIDs(ctx, userFilesList(s.Identity.ID), notificationsCap)
	if err != nil {
		return err
	}
	raws, err := d.Store.LoadMany(ctx, familyFile, ids)
	if err != nil {
		return err
	}
	s.Emit("file:list", map[string]interface{}{"files": decodeItems(raws)})
	return nil
}

func (d *Deps) fileUpdatePermissions(ctx context.Context, s *gateway.Session, payload map[string]interface{}) error {
	fileID, err := requireStr(payload, "fileId")
	if err != nil {
		return err
	}
	if _, err := d.loadFile(ctx, s, fileID, true); err != nil {
		return err
	}
	visibility := str(payload, "visibility")
	shared := strSlice(payload, "sharedWith")
	updated, _, err := d.Store.Update(ctx, familyFile, fileID, func(it map[string]interface{}) {
		if visibility != "" {
			it["visibility"] = visibility
		}
		if shared != nil {
			it["sharedWith"] = shared
		}
	})
	if err != nil {
		return err
	}
	s.Emit("file:permissions_updated", map[string]interface{}{
		"fileId":     fileID,
		"visibility": updated["visibility"],
		"sharedWith": updated["sharedWith"],
	})
	return nil
}

func (d *Deps) fileCreateLink(ctx context.Context, s *gateway.Session, payload map[string]interface{}) error {
	fileID, err := requireStr(payload, "fileId")
	if err != nil {
		return err
	}
	if _, err := d.loadFile(ctx, s, fileID, true); err != nil {
		return err
	}
	token := uuid.NewString()
	if _, _, err := d.Store.Update(ctx, familyFile, fileID, func(it map[string]interface{}) {
		it["linkToken"] = token
	}); err != nil {
		return err
	}
	s.Emit("file:link_created", map[string]interface{}{
		"fileId": fileID,
		"token":  token,
	})
	return nil
}

func (d *Deps) fileScan(ctx context.Context, s *gateway.Session, payload map[string]interface{}) error {
	fileID, err := requireStr(payload, "fileId")
	if err != nil {
		return err
	}
	if _, err := d.loadFile(ctx, s, fileID, true); err != nil {
		return err
	}
	if _, _, err := d.Store.Update(ctx, familyFile, fileID, func(it map[string]interface{}) {
		it["scanStatus"] = "pending"
	}); err != nil {
		return err
	}
	s.Emit("file:scan_requested", map[string]interface{}{"fileId": fileID})
	d.publish(bus.TopicFileEvents, "file.scan_requested", map[string]interface{}{
		"fileId": fileID, "requestedBy": s.Identity.ID,
	})
	return nil
}

func toStringList(v interface{}) []string {
	switch arr := v.(type) {
	case []string:
		return arr
	case []interface{}:
		out := make([]string, 0, len(arr))
		for _, e := range arr {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func indexOfString(ss []string, want string) int {
	for i, s := range ss {
		if s == want {
			return i
		}
	}
	return -1
}
