package gmp

import "encoding/xml"

// GMP command and response documents. Reference:
// https://docs.greenbone.net/API/GMP/gmp-22.04.html

type authenticateCmd struct {
	XMLName     xml.Name `xml:"authenticate"`
	Credentials struct {
		Username string `xml:"username"`
		Password string `xml:"password"`
	} `xml:"credentials"`
}

type authenticateResponse struct {
	XMLName xml.Name `xml:"authenticate_response"`
	gmpStatus
}

type createTargetCmd struct {
	XMLName  xml.Name `xml:"create_target"`
	Name     string   `xml:"name"`
	Hosts    string   `xml:"hosts"`
	PortList *idRef   `xml:"port_list,omitempty"`
}

type createPortListCmd struct {
	XMLName   xml.Name `xml:"create_port_list"`
	Name      string   `xml:"name"`
	PortRange string   `xml:"port_range"`
}

type createTaskCmd struct {
	XMLName xml.Name `xml:"create_task"`
	Name    string   `xml:"name"`
	Config  idRef    `xml:"config"`
	Target  idRef    `xml:"target"`
	Scanner idRef    `xml:"scanner"`
}

type idRef struct {
	ID string `xml:"id,attr"`
}

// createResponse covers create_target_response, create_task_response and
// create_port_list_response; all carry the new id as an attribute.
type createResponse struct {
	gmpStatus
	ID string `xml:"id,attr"`
}

type startTaskCmd struct {
	XMLName xml.Name `xml:"start_task"`
	TaskID  string   `xml:"task_id,attr"`
}

type startTaskResponse struct {
	XMLName xml.Name `xml:"start_task_response"`
	gmpStatus
	ReportID string `xml:"report_id"`
}

type stopTaskCmd struct {
	XMLName xml.Name `xml:"stop_task"`
	TaskID  string   `xml:"task_id,attr"`
}

type deleteTaskCmd struct {
	XMLName  xml.Name `xml:"delete_task"`
	TaskID   string   `xml:"task_id,attr"`
	Ultimate string   `xml:"ultimate,attr"`
}

type deleteTargetCmd struct {
	XMLName  xml.Name `xml:"delete_target"`
	TargetID string   `xml:"target_id,attr"`
	Ultimate string   `xml:"ultimate,attr"`
}

type deletePortListCmd struct {
	XMLName    xml.Name `xml:"delete_port_list"`
	PortListID string   `xml:"port_list_id,attr"`
	Ultimate   string   `xml:"ultimate,attr"`
}

type genericResponse struct {
	gmpStatus
}

type getTasksCmd struct {
	XMLName xml.Name `xml:"get_tasks"`
	TaskID  string   `xml:"task_id,attr,omitempty"`
	Filter  string   `xml:"filter,attr,omitempty"`
}

type getTasksResponse struct {
	XMLName xml.Name `xml:"get_tasks_response"`
	gmpStatus
	Tasks []taskElement `xml:"task"`
}

type taskElement struct {
	ID         string `xml:"id,attr"`
	Name       string `xml:"name"`
	Status     string `xml:"status"`
	Progress   string `xml:"progress"`
	LastReport struct {
		Report idRef `xml:"report"`
	} `xml:"last_report"`
}

type getTargetsCmd struct {
	XMLName xml.Name `xml:"get_targets"`
	Filter  string   `xml:"filter,attr,omitempty"`
}

type getTargetsResponse struct {
	XMLName xml.Name `xml:"get_targets_response"`
	gmpStatus
	Targets []namedElement `xml:"target"`
}

type getPortListsCmd struct {
	XMLName xml.Name `xml:"get_port_lists"`
	Filter  string   `xml:"filter,attr,omitempty"`
}

type getPortListsResponse struct {
	XMLName xml.Name `xml:"get_port_lists_response"`
	gmpStatus
	PortLists []namedElement `xml:"port_list"`
}

type getConfigsCmd struct {
	XMLName xml.Name `xml:"get_configs"`
}

type getConfigsResponse struct {
	XMLName xml.Name `xml:"get_configs_response"`
	gmpStatus
	Configs []namedElement `xml:"config"`
}

type getScannersCmd struct {
	XMLName xml.Name `xml:"get_scanners"`
}

type getScannersResponse struct {
	XMLName xml.Name `xml:"get_scanners_response"`
	gmpStatus
	Scanners []namedElement `xml:"scanner"`
}

type getReportFormatsCmd struct {
	XMLName xml.Name `xml:"get_report_formats"`
}

type getReportFormatsResponse struct {
	XMLName xml.Name `xml:"get_report_formats_response"`
	gmpStatus
	Formats []namedElement `xml:"report_format"`
}

type getReportsCmd struct {
	XMLName          xml.Name `xml:"get_reports"`
	ReportID         string   `xml:"report_id,attr"`
	FormatID         string   `xml:"format_id,attr"`
	Details          string   `xml:"details,attr"`
	IgnorePagination string   `xml:"ignore_pagination,attr"`
}

type getReportsResponse struct {
	XMLName xml.Name `xml:"get_reports_response"`
	gmpStatus
	Report *rawReport `xml:"report"`
}

// rawReport keeps the report body as the opaque blob it is.
type rawReport struct {
	ID    string `xml:"id,attr"`
	Inner string `xml:",innerxml"`
}

type namedElement struct {
	ID   string `xml:"id,attr"`
	Name string `xml:"name"`
}
