package mutations

import (
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/roach88/graphcache/internal/ir"
	"github.com/roach88/graphcache/internal/mutation"
)

// Operation names sent to the server.
const (
	OpUpdateProjectMedia  = "updateProjectMedia"
	OpCreateProjectMedia  = "createProjectMedia"
	OpDestroyProjectMedia = "destroyProjectMedia"
)

// Payload paths shared by the optimistic and the server responses.
const (
	FieldAffectedIDs     = "affectedIds"
	FieldSourceSearch    = "check_search_project_was"
	FieldProjectMedia    = "project_media"
	FieldDeletedID       = "deletedId"
	FieldClientKey       = "client_key"
	FieldProjectID       = "project_id"
	FieldNumberOfResults = "number_of_results"

	// MediasConnection is the connection every search record lists its
	// media under.
	MediasConnection = "medias"
)

// Project identifies a project and the search record that lists its media.
type Project struct {
	DBID     int64
	SearchID string
}

func (p Project) medias() ir.ConnKey {
	return ir.Conn(p.SearchID, MediasConnection)
}

// BulkUpdate moves IDs from Source (when known) to Destination.
type BulkUpdate struct {
	// ID is the media the bulk action was started from.
	ID          string
	IDs         []string
	Destination Project
	Source      *Project
}

// BulkUpdateProjectMedia builds the bulk move descriptor.
//
// Optimistically the moved media leave the source search's connection and
// take the destination project id. The server's affectedIds drive the same
// configs on confirmation, and its check_search_project_was object refreshes
// the source search's result count.
func BulkUpdateProjectMedia(in BulkUpdate) (*mutation.Descriptor, error) {
	if len(in.IDs) == 0 {
		return nil, invalid(OpUpdateProjectMedia, "ids is empty")
	}
	if slices.Contains(in.IDs, "") {
		return nil, invalid(OpUpdateProjectMedia, "ids contains an empty id")
	}
	if in.Destination.DBID == 0 {
		return nil, invalid(OpUpdateProjectMedia, "destination project is required")
	}
	if in.Source != nil && in.Source.SearchID == "" {
		return nil, invalid(OpUpdateProjectMedia, "source project %d has no search id", in.Source.DBID)
	}

	ids := make(ir.IRArray, len(in.IDs))
	for i, id := range in.IDs {
		ids[i] = ir.IRString(id)
	}
	vars := ir.IRObject{
		"id":           ir.IRString(in.ID),
		"ids":          ids,
		FieldProjectID: ir.IRInt(in.Destination.DBID),
	}

	fp := mutation.Footprint{}
	for _, id := range in.IDs {
		fp.Fields = append(fp.Fields, mutation.FieldRef{Record: id, Field: FieldProjectID})
	}

	var configs []mutation.Config
	if in.Source != nil {
		vars["previous_project_id"] = ir.IRInt(in.Source.DBID)
		fp.Connections = append(fp.Connections, in.Source.medias())
		fp.Fields = append(fp.Fields, mutation.FieldRef{Record: in.Source.SearchID, Field: FieldNumberOfResults})
		configs = append(configs,
			mutation.RemoveEdge{Connection: in.Source.medias(), IDField: FieldAffectedIDs},
			mutation.ReplaceFields{
				PayloadField: FieldSourceSearch,
				RecordID:     in.Source.SearchID,
				Fields:       []string{FieldNumberOfResults},
			},
		)
	}
	configs = append(configs, mutation.SetFields{
		IDField: FieldAffectedIDs,
		Values:  ir.IRObject{FieldProjectID: ir.IRInt(in.Destination.DBID)},
	})

	return &mutation.Descriptor{
		Operation:          OpUpdateProjectMedia,
		Variables:          vars,
		Footprint:          fp,
		OptimisticResponse: ir.IRObject{FieldAffectedIDs: ids},
		Configs:            configs,
	}, nil
}

// Create adds a media to a project.
type Create struct {
	Project Project
	URL     string
	Quote   string

	// ClientKey correlates the placeholder edge with the server's node.
	// A random key is used when empty.
	ClientKey string
}

// CreateProjectMedia builds the creation descriptor. The new media appears
// at the end of the project's search under a placeholder id drawn from gen
// and is swapped for the server's record on confirmation.
func CreateProjectMedia(gen mutation.PlaceholderGenerator, in Create) (*mutation.Descriptor, error) {
	if in.Project.SearchID == "" {
		return nil, invalid(OpCreateProjectMedia, "project search id is required")
	}
	if in.URL == "" && in.Quote == "" {
		return nil, invalid(OpCreateProjectMedia, "either url or quote is required")
	}
	key := in.ClientKey
	if key == "" {
		key = uuid.NewString()
	}

	vars := ir.IRObject{
		FieldProjectID: ir.IRInt(in.Project.DBID),
		FieldClientKey: ir.IRString(key),
	}
	node := ir.IRObject{
		"id":           ir.IRString(gen.Generate()),
		FieldProjectID: ir.IRInt(in.Project.DBID),
		FieldClientKey: ir.IRString(key),
	}
	if in.URL != "" {
		vars["url"] = ir.IRString(in.URL)
		node["url"] = ir.IRString(in.URL)
	}
	if in.Quote != "" {
		vars["quote"] = ir.IRString(in.Quote)
		node["quote"] = ir.IRString(in.Quote)
	}

	conn := in.Project.medias()
	return &mutation.Descriptor{
		Operation:          OpCreateProjectMedia,
		Variables:          vars,
		Footprint:          mutation.Footprint{Connections: []ir.ConnKey{conn}},
		OptimisticResponse: ir.IRObject{FieldProjectMedia: node},
		Configs: []mutation.Config{
			mutation.AppendEdge{Connection: conn, NodeField: FieldProjectMedia, KeyField: FieldClientKey},
		},
	}, nil
}

// DestroyProjectMedia builds the deletion descriptor. The record disappears
// from the store and from every connection listing it.
func DestroyProjectMedia(id string) (*mutation.Descriptor, error) {
	if id == "" {
		return nil, invalid(OpDestroyProjectMedia, "id is required")
	}
	return &mutation.Descriptor{
		Operation:          OpDestroyProjectMedia,
		Variables:          ir.IRObject{"id": ir.IRString(id)},
		Footprint:          mutation.Footprint{Records: []string{id}},
		OptimisticResponse: ir.IRObject{FieldDeletedID: ir.IRString(id)},
		Configs:            []mutation.Config{mutation.DeleteRecord{IDField: FieldDeletedID}},
	}, nil
}

// UpdateProjectMedia builds a field update for one media. Fields are shown
// immediately and replaced by whatever the server returns for them.
func UpdateProjectMedia(id string, fields ir.IRObject) (*mutation.Descriptor, error) {
	if id == "" {
		return nil, invalid(OpUpdateProjectMedia, "id is required")
	}
	if len(fields) == 0 {
		return nil, invalid(OpUpdateProjectMedia, "no fields to update")
	}
	if _, ok := fields["id"]; ok {
		return nil, invalid(OpUpdateProjectMedia, "the id field cannot be updated")
	}

	vars := fields.Clone()
	vars["id"] = ir.IRString(id)

	node := fields.Clone()
	node["id"] = ir.IRString(id)

	names := fields.SortedKeys()
	fp := mutation.Footprint{}
	for _, f := range names {
		fp.Fields = append(fp.Fields, mutation.FieldRef{Record: id, Field: f})
	}

	return &mutation.Descriptor{
		Operation:          OpUpdateProjectMedia,
		Variables:          vars,
		Footprint:          fp,
		OptimisticResponse: ir.IRObject{FieldProjectMedia: node},
		Configs: []mutation.Config{
			mutation.ReplaceFields{PayloadField: FieldProjectMedia, Fields: names},
		},
	}, nil
}

func invalid(op, format string, args ...any) *mutation.Error {
	return &mutation.Error{
		Code:      mutation.ErrCodeMalformedDescriptor,
		Operation: op,
		Message:   fmt.Sprintf(format, args...),
		Index:     -1,
	}
}
