package contentdir

import (
	"context"
	"errors"
	"strconv"

	"github.com/rs/zerolog"

	"dlnamedia/internal/catalog"
	"dlnamedia/internal/didl"
	"dlnamedia/internal/upnp"
)

const (
	ServiceType = "urn:schemas-upnp-org:service:ContentDirectory:1"
	ServiceID   = "urn:upnp-org:serviceId:ContentDirectory"

	browseMetadata       = "BrowseMetadata"
	browseDirectChildren = "BrowseDirectChildren"
)

const featureList = `<?xml version="1.0" encoding="UTF-8"?>
<Features xmlns="urn:schemas-upnp-org:av:avs" ` +
	`xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance" ` +
	`xsi:schemaLocation="urn:schemas-upnp-org:av:avs http://www.upnp.org/schemas/av/avs-v1-20060531.xsd">
</Features>`

// Library is the catalog holder the service reads from.
type Library interface {
	Catalog() *catalog.Catalog
	UpdateID() uint32
}

// Service implements the ContentDirectory actions on top of the current
// catalog.
type Service struct {
	lib    Library
	format didl.FormatFunc
	logger zerolog.Logger
}

func New(lib Library, format didl.FormatFunc, logger zerolog.Logger) *Service {
	return &Service{
		lib:    lib,
		format: format,
		logger: logger.With().Str("component", "contentdir").Logger(),
	}
}

func (s *Service) Name() string { return "ContentDirectory" }
func (s *Service) Type() string { return ServiceType }
func (s *Service) ID() string   { return ServiceID }

func (s *Service) SCPD() upnp.SCPD {
	pageArgs := []upnp.Argument{
		upnp.In("Filter", "A_ARG_TYPE_Filter"),
		upnp.In("StartingIndex", "A_ARG_TYPE_Index"),
		upnp.In("RequestedCount", "A_ARG_TYPE_Count"),
		upnp.In("SortCriteria", "A_ARG_TYPE_SortCriteria"),
		upnp.Out("Result", "A_ARG_TYPE_Result"),
		upnp.Out("NumberReturned", "A_ARG_TYPE_Count"),
		upnp.Out("TotalMatches", "A_ARG_TYPE_Count"),
		upnp.Out("UpdateID", "A_ARG_TYPE_UpdateID"),
	}
	browse := append([]upnp.Argument{
		upnp.In("ObjectID", "A_ARG_TYPE_ObjectID"),
		upnp.In("BrowseFlag", "A_ARG_TYPE_BrowseFlag"),
	}, pageArgs...)
	search := append([]upnp.Argument{
		upnp.In("ContainerID", "A_ARG_TYPE_ObjectID"),
		upnp.In("SearchCriteria", "A_ARG_TYPE_SearchCriteria"),
	}, pageArgs...)

	return upnp.SCPD{
		Actions: []upnp.Action{
			{Name: "Browse", Arguments: browse},
			{Name: "Search", Arguments: search},
			{Name: "GetSearchCapabilities", Arguments: []upnp.Argument{upnp.Out("SearchCaps", "SearchCapabilities")}},
			{Name: "GetSortCapabilities", Arguments: []upnp.Argument{upnp.Out("SortCaps", "SortCapabilities")}},
			{Name: "GetSystemUpdateID", Arguments: []upnp.Argument{upnp.Out("Id", "SystemUpdateID")}},
			{Name: "GetFeatureList", Arguments: []upnp.Argument{upnp.Out("FeatureList", "FeatureList")}},
		},
		StateVariables: []upnp.StateVariable{
			upnp.Var("SearchCapabilities", "string"),
			upnp.Var("SortCapabilities", "string"),
			upnp.EventedVar("SystemUpdateID", "ui4"),
			upnp.EventedVar("ContainerUpdateIDs", "string"),
			upnp.Var("FeatureList", "string"),
			upnp.Var("A_ARG_TYPE_BrowseFlag", "string", browseMetadata, browseDirectChildren),
			upnp.Var("A_ARG_TYPE_Filter", "string"),
			upnp.Var("A_ARG_TYPE_ObjectID", "string"),
			upnp.Var("A_ARG_TYPE_Count", "ui4"),
			upnp.Var("A_ARG_TYPE_Index", "ui4"),
			upnp.Var("A_ARG_TYPE_SortCriteria", "string"),
			upnp.Var("A_ARG_TYPE_SearchCriteria", "string"),
			upnp.Var("A_ARG_TYPE_Result", "string"),
			upnp.Var("A_ARG_TYPE_UpdateID", "ui4"),
		},
	}
}

func (s *Service) Handle(ctx context.Context, call *upnp.Call) ([]upnp.Arg, error) {
	switch call.Action {
	case "Browse":
		return s.browse(call)
	case "Search":
		return s.search(call)
	case "GetSearchCapabilities":
		return []upnp.Arg{{Name: "SearchCaps", Value: SearchCapabilities}}, nil
	case "GetSortCapabilities":
		return []upnp.Arg{{Name: "SortCaps", Value: ""}}, nil
	case "GetSystemUpdateID":
		return []upnp.Arg{{Name: "Id", Value: strconv.FormatUint(uint64(s.lib.UpdateID()), 10)}}, nil
	case "GetFeatureList":
		return []upnp.Arg{{Name: "FeatureList", Value: featureList}}, nil
	default:
		return nil, upnp.Errorf(upnp.ErrCodeInvalidAction, "unknown action %s", call.Action)
	}
}

type page struct {
	start, count int
}

func readPage(call *upnp.Call) (page, error) {
	start, err := call.Uint("StartingIndex")
	if err != nil {
		return page{}, err
	}
	count, err := call.Uint("RequestedCount")
	if err != nil {
		return page{}, err
	}
	return page{start: int(start), count: int(count)}, nil
}

func (s *Service) browse(call *upnp.Call) ([]upnp.Arg, error) {
	id, err := call.Arg("ObjectID")
	if err != nil {
		return nil, err
	}
	flag, err := call.Arg("BrowseFlag")
	if err != nil {
		return nil, err
	}
	pg, err := readPage(call)
	if err != nil {
		return nil, err
	}

	// UpdateID first: a rebuild in between leaves the id stale, not the tree.
	updateID := s.lib.UpdateID()
	cat := s.lib.Catalog()

	var (
		objs     []*catalog.Object
		total    int
		parentID string
	)
	switch flag {
	case browseMetadata:
		obj, err := cat.Lookup(id)
		if err != nil {
			return nil, objectError(err, id)
		}
		objs, total, parentID = []*catalog.Object{obj}, 1, obj.ParentID
	case browseDirectChildren:
		objs, total, err = cat.ListChildren(id, pg.start, pg.count)
		if err != nil {
			return nil, objectError(err, id)
		}
		parentID = id
	default:
		return nil, upnp.Errorf(upnp.ErrCodeInvalidArgs, "invalid BrowseFlag %q", flag)
	}

	s.logger.Debug().
		Str("object_id", id).
		Str("flag", flag).
		Int("start", pg.start).
		Int("count", pg.count).
		Str("filter", call.OptionalArg("Filter")).
		Str("sort", call.OptionalArg("SortCriteria")).
		Int("returned", len(objs)).
		Int("total", total).
		Msg("browse")

	return s.result(call, objs, total, parentID, updateID)
}

func (s *Service) search(call *upnp.Call) ([]upnp.Arg, error) {
	id, err := call.Arg("ContainerID")
	if err != nil {
		return nil, err
	}
	raw, err := call.Arg("SearchCriteria")
	if err != nil {
		return nil, err
	}
	pg, err := readPage(call)
	if err != nil {
		return nil, err
	}
	criteria, err := ParseCriteria(raw)
	if err != nil {
		return nil, upnp.Errorf(upnp.ErrCodeUnsupportedSearch, "%v", err)
	}

	updateID := s.lib.UpdateID()
	objs, total, err := s.lib.Catalog().Search(id, criteria, pg.start, pg.count)
	if err != nil {
		return nil, objectError(err, id)
	}

	s.logger.Debug().
		Str("container_id", id).
		Str("criteria", raw).
		Str("sort", call.OptionalArg("SortCriteria")).
		Int("returned", len(objs)).
		Int("total", total).
		Msg("search")

	return s.result(call, objs, total, id, updateID)
}

func (s *Service) result(call *upnp.Call, objs []*catalog.Object, total int, containerID string, updateID uint32) ([]upnp.Arg, error) {
	enc := didl.Encoder{BaseURL: call.BaseURL, Format: s.format}
	doc, err := enc.Encode(objs, containerID)
	if err != nil {
		return nil, err
	}
	return []upnp.Arg{
		{Name: "Result", Value: doc},
		{Name: "NumberReturned", Value: strconv.Itoa(len(objs))},
		{Name: "TotalMatches", Value: strconv.Itoa(total)},
		{Name: "UpdateID", Value: strconv.FormatUint(uint64(updateID), 10)},
	}, nil
}

func objectError(err error, id string) error {
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		return upnp.Errorf(upnp.ErrCodeNoSuchObject, "No such object: %s", id)
	case errors.Is(err, catalog.ErrNotContainer):
		return upnp.Errorf(upnp.ErrCodeNoSuchContainer, "No such container: %s", id)
	default:
		return err
	}
}
